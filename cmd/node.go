package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargenet/config"
	"github.com/kilianp07/chargenet/core/nodeauth"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Node credential helpers",
}

var nodeTOTPCmd = &cobra.Command{
	Use:   "totp <node-id>",
	Short: "Print the one-time code currently accepted for a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeTOTP,
}

var nodeHashCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Hash a node password for the credentials list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := nodeauth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeTOTPCmd, nodeHashCmd)
	rootCmd.AddCommand(nodeCmd)
}

func runNodeTOTP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var secret string
	for _, c := range cfg.NodeAuth.Credentials {
		if c.NodeID == args[0] {
			secret = c.TOTPSecret
		}
	}
	if secret == "" {
		return fmt.Errorf("no totp secret configured for %s", args[0])
	}
	gen, err := nodeauth.NewTOTP(cfg.NodeAuth.TOTP)
	if err != nil {
		return err
	}
	now := time.Now()
	fmt.Fprintf(cmd.OutOrStdout(), "%s (window %d)\n", gen.Code(secret, now), gen.Window(now))
	return nil
}
