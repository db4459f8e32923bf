package bondctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/encodeous/nybond/bondmgr"
)

var validateCmd = &cobra.Command{
	Use:     "validate",
	Aliases: []string{"check"},
	Short:   "Validates a bonding configuration file",
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

		fake := bondmgr.New(0, noopClock{}, noopTransport{}, noopRandom{})
		if err := fake.Apply(cfg); err != nil {
			fmt.Println("Error:", err.Error())
			os.Exit(1)
		}
		fmt.Printf("ok: %d polic%s, %d peer assignment%s\n",
			len(cfg.Policies), plural(len(cfg.Policies), "y", "ies"),
			len(cfg.Peers), plural(len(cfg.Peers), "", "s"))
	},
	GroupID: "bond",
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
