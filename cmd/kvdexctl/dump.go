package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	gojson "github.com/goccy/go-json"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/spf13/cobra"
)

// dumpRecord is one line of a dump file: the reversible key encoding plus
// the raw value and versionstamp. restore writes back each key and value;
// the recorded versionstamp is not reapplied, so restored entries get fresh
// versionstamps from the target backend. encoding/json's (and goccy's)
// []byte fields base64-encode automatically.
type dumpRecord struct {
	Key          []byte `json:"key"`
	Value        []byte `json:"value"`
	Versionstamp string `json:"versionstamp"`
}

var dumpCmd = &cobra.Command{
	Use:   "dump <db-dir> <out-file>",
	Short: "Export every key under the framework prefix to a JSON-lines file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, outPath := args[0], args[1]

		store, err := openStore(dir)
		if err != nil {
			return err
		}
		defer store.Close()

		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("kvdexctl: create %s: %w", outPath, err)
		}
		defer out.Close()

		w := bufio.NewWriter(out)
		defer w.Flush()

		ctx := cmd.Context()
		prefix := kv.Key{kv.Text(kv.FrameworkKey)}
		cursor := ""
		total := 0
		for {
			var page kv.ListPage
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 30 * time.Second
			err := backoff.Retry(func() error {
				p, err := store.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 512, Cursor: cursor})
				if err != nil {
					return err // transient backend fault: retry
				}
				page = p
				return nil
			}, backoff.WithContext(bo, ctx))
			if err != nil {
				return fmt.Errorf("kvdexctl: list: %w", err)
			}

			for _, e := range page.Entries {
				rec := dumpRecord{Key: kv.EncodeKey(e.Key), Value: e.Value, Versionstamp: string(e.Versionstamp)}
				line, err := gojson.Marshal(rec)
				if err != nil {
					return fmt.Errorf("kvdexctl: encode entry: %w", err)
				}
				if _, err := w.Write(line); err != nil {
					return err
				}
				if err := w.WriteByte('\n'); err != nil {
					return err
				}
				total++
			}
			if page.Done {
				break
			}
			cursor = page.Cursor
		}

		fmt.Fprintf(cmd.OutOrStdout(), "dumped %d entries to %s\n", total, outPath)
		return nil
	},
}
