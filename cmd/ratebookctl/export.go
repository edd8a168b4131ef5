package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratebook/internal/exporter"
)

func newExportCmd(a *app) *cobra.Command {
	var batchID, outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an imported batch to xlsx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if outputPath == "" {
				outputPath = fmt.Sprintf("ratebook-%s.xlsx", batchID)
			}
			f, err := exporter.NewExporter(st).Export(ctx, exporter.ExportOptions{BatchID: batchID}, func(ev exporter.ProgressEvent) {
				a.logger.Debug().Int("percent", ev.Percent).Msg(ev.Stage)
			})
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.SaveAs(outputPath); err != nil {
				return fmt.Errorf("failed to save %s: %w", outputPath, err)
			}
			a.logger.Info().Str("batch", batchID).Str("file", outputPath).Msg("export finished")
			return nil
		},
	}
	cmd.Flags().StringVarP(&batchID, "batch", "b", "", "Batch ID to export (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output xlsx path (default: ratebook-<batch>.xlsx)")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func newBatchesCmd(a *app) *cobra.Command {
	var provider string
	var limit int

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List import batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			batches, err := st.ListBatches(ctx, provider, limit)
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}
			return a.printJSON(batches)
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Only list batches of this funder")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of batches")
	return cmd
}
