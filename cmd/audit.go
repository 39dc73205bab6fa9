package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/chargenet/config"
	"github.com/kilianp07/chargenet/core/audit"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/pkg/export"
)

var (
	exportFormat    string
	exportNode      string
	exportDirection string
	exportSince     time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded frames",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded frames as JSON or CSV",
	RunE:  runAuditExport,
}

func init() {
	auditExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format: json or csv")
	auditExportCmd.Flags().StringVar(&exportNode, "node", "", "only frames of this node")
	auditExportCmd.Flags().StringVar(&exportDirection, "direction", "", "only in or out frames")
	auditExportCmd.Flags().DurationVar(&exportSince, "since", 0, "only frames newer than this duration")
	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("audit is disabled in %s", cfgPath)
	}
	defer func() { _ = store.Close() }()

	q := audit.Query{NodeID: model.NodeID(exportNode), Direction: exportDirection}
	if exportSince > 0 {
		q.Start = time.Now().Add(-exportSince)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	recs, err := store.Query(ctx, q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), exportFormat, recs)
}
