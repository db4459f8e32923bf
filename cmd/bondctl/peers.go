package bondctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/encodeous/nybond/bondmgr"
)

var peersCmd = &cobra.Command{
	Use:     "peers",
	Aliases: []string{"p"},
	Short:   "Lists each peer's assigned policy alias",
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

		for addr, alias := range cfg.Peers {
			fmt.Printf("%-20s -> %s\n", addr, alias)
		}
	},
	GroupID: "bond",
}

func init() {
	rootCmd.AddCommand(peersCmd)
}
