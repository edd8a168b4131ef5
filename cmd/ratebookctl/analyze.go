package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratebook/internal/exporter"
	"ratebook/internal/importer"
	"ratebook/internal/model"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		contractType string
		offline      bool
		previewPath  string
	)
	cmd := &cobra.Command{
		Use:   "analyze <ratebook.xlsx>",
		Short: "Detect the layout of a ratebook and preview its rates without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, data, err := readInput(args[0])
			if err != nil {
				return err
			}

			var st importer.BatchStore
			if !offline {
				repo, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer repo.Close()
				st = repo
			}
			coordinator, err := a.coordinator(st)
			if err != nil {
				return err
			}

			result, err := coordinator.Analyze(ctx, importer.ImportOptions{
				FileName:     name,
				Data:         data,
				ContractType: model.ContractType(contractType),
			})
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("format", string(result.Detection.Format)).
				Int("confidence", result.Detection.Confidence).
				Int("rates", result.TotalRates).
				Msg("analysis finished")
			if result.DuplicateOf != "" {
				a.logger.Warn().Str("batch", result.DuplicateOf).Msg("file already imported")
			}

			if previewPath != "" {
				if err := writePreview(previewPath, result.Rates); err != nil {
					return err
				}
			}
			return a.printJSON(result)
		},
	}
	cmd.Flags().StringVar(&contractType, "contract-type", "", "Contract type for sheets without a contract marker (CH, CHNM, PCH, PCHNM, BSSNL)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not open the store (skips duplicate detection)")
	cmd.Flags().StringVar(&previewPath, "preview", "", "Write the previewed rates to this xlsx file")
	return cmd
}

func writePreview(path string, rates []model.ParsedRate) error {
	f, err := exporter.ExportRates(rates)
	if err != nil {
		return fmt.Errorf("failed to build preview: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}
