// Package bondctl is the operator-facing CLI for the multipath bonding
// core: it loads a bonding configuration file and reports how it resolves
// without needing a live node.
package bondctl

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bondctl",
	Short: "Inspect and validate multipath bonding configuration",
	Long:  `bondctl loads a bonding configuration file and reports how it resolves: policy templates, link sets, and peer assignments.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It only needs to be called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bond.yaml", "bonding configuration file")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "bond",
		Title: "Bonding Commands",
	})
}
