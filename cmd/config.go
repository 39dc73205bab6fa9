package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargenet/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "configuration ok: %d credentials, %d routes, %d authorization backends\n",
			len(cfg.NodeAuth.Credentials), len(cfg.Routing.Routes), len(cfg.Authz.Backends))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}
