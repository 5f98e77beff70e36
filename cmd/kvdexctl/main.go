// Command kvdexctl is a scriptable export/import/inspect tool for a
// kvdex database directory: it opens a short-lived backend handle, so it
// does not coordinate with a live process also holding that directory
// open (restore's --help spells out what that means for a replay).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     Config
)

var rootCmd = &cobra.Command{
	Use:   "kvdexctl",
	Short: "Inspect and move data in and out of a kvdex database directory",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (default: built-in defaults)")
	rootCmd.AddCommand(dumpCmd, restoreCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kvdexctl: %v\n", err)
		os.Exit(1)
	}
}
