package bondctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/encodeous/nybond/bondmgr"
)

var dumpCmd = &cobra.Command{
	Use:     "dump",
	Aliases: []string{"d"},
	Short:   "Prints the resolved policy templates and link sets",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(configPath)
		if err != nil {
			fmt.Println("Error:", err.Error())
			os.Exit(1)
		}
		cfg, err := bondmgr.DecodeConfig(data)
		if err != nil {
			fmt.Println("Error:", err.Error())
			os.Exit(1)
		}

		fmt.Printf("default policy: %s\n", cfg.Default)
		for alias, pc := range cfg.Policies {
			fmt.Printf("\npolicy %q: %s\n", alias, pc.Policy)
			for _, l := range pc.Links {
				fmt.Printf("  link %-10s mode=%-8s enabled=%t\n", l.Interface, l.Mode, l.Enabled)
			}
		}
	},
	GroupID: "bond",
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
