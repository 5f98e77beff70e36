package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/spf13/cobra"
)

var familyColor = map[string]*color.Color{
	kv.FamilyID:          color.New(color.FgGreen),
	kv.FamilyPrimary:     color.New(color.FgCyan),
	kv.FamilySecondary:   color.New(color.FgBlue),
	kv.FamilySegment:     color.New(color.FgYellow),
	kv.FamilyHistory:     color.New(color.FgMagenta),
	kv.FamilyUndelivered: color.New(color.FgRed),
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <db-dir> <collection-path...>",
	Short: "List every stored key under a collection's base key, grouped by family",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, path := args[0], args[1:]

		store, err := openStore(dir)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "config: segment-limit=%d undelivered-retention=%s framework-prefix=%s\n\n",
			cfg.SegmentLimit, cfg.UndeliveredRetention, cfg.FrameworkPrefix)

		ctx := cmd.Context()
		base := kv.Base(path...)
		cursor := ""
		counts := map[string]int{}
		for {
			page, err := store.List(ctx, kv.Selector{Prefix: base}, kv.ListOptions{Limit: 256, Cursor: cursor})
			if err != nil {
				return fmt.Errorf("kvdexctl: list: %w", err)
			}
			for _, e := range page.Entries {
				family := "?"
				if s, ok := familyFromKey(e.Key, len(base)); ok {
					family = s
				}
				counts[family]++
				c, ok := familyColor[family]
				if !ok {
					c = color.New(color.FgWhite)
				}
				c.Fprintf(cmd.OutOrStdout(), "%-4s", family)
				fmt.Fprintf(cmd.OutOrStdout(), " %-60s  %6d bytes  vs=%s\n", e.Key.String(), len(e.Value), e.Versionstamp)
			}
			if page.Done {
				break
			}
			cursor = page.Cursor
		}

		fmt.Fprintln(cmd.OutOrStdout())
		for _, family := range []string{kv.FamilyID, kv.FamilyPrimary, kv.FamilySecondary, kv.FamilySegment, kv.FamilyHistory, kv.FamilyUndelivered} {
			if n := counts[family]; n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", family, n)
			}
		}
		return nil
	},
}

// familyFromKey decodes the family tag at keyIdx (the first part past
// base), which every key-building helper in kv/key.go writes as a Text
// part — e.g. "id", "pi", "si", "seg", "hist", "und".
func familyFromKey(k kv.Key, keyIdx int) (string, bool) {
	if keyIdx >= len(k) {
		return "", false
	}
	return k[keyIdx].Text()
}
