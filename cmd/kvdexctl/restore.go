package main

import (
	"bufio"
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <db-dir> <in-file>",
	Short: "Replay a JSON-lines dump file into a database directory",
	Long: `restore does not coordinate with any concurrent writer against
<db-dir>: it takes a short-lived handle, replays every record with a plain
Set, and closes. Running it against a directory with live traffic means
last-write-wins against whatever else is writing, not a snapshot restore.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, inPath := args[0], args[1]

		store, err := openStore(dir)
		if err != nil {
			return err
		}
		defer store.Close()

		in, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("kvdexctl: open %s: %w", inPath, err)
		}
		defer in.Close()

		ctx := cmd.Context()
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		total := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec dumpRecord
			if err := gojson.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("kvdexctl: decode entry %d: %w", total+1, err)
			}
			key, err := kv.DecodeKey(rec.Key)
			if err != nil {
				return fmt.Errorf("kvdexctl: decode key for entry %d: %w", total+1, err)
			}
			if _, err := store.Set(ctx, key, rec.Value); err != nil {
				return fmt.Errorf("kvdexctl: restore entry %d: %w", total+1, err)
			}
			total++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("kvdexctl: read %s: %w", inPath, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "restored %d entries into %s\n", total, dir)
		return nil
	},
}
