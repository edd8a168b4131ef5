package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ratebook/internal/importer"
	"ratebook/internal/model"
)

func newImportCmd(a *app) *cobra.Command {
	var opts importer.ImportOptions
	var contractType string

	cmd := &cobra.Command{
		Use:   "import <ratebook.xlsx>",
		Short: "Import a ratebook into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, data, err := readInput(args[0])
			if err != nil {
				return err
			}
			opts.FileName = name
			opts.Data = data
			opts.ContractType = model.ContractType(contractType)

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			coordinator, err := a.coordinator(st)
			if err != nil {
				return err
			}

			var result *model.SmartImportResult
			var importErr error
			for ev := range coordinator.Import(ctx, opts) {
				switch ev.Type {
				case "done":
					result, _ = ev.Data.(*model.SmartImportResult)
				case "error":
					result, _ = ev.Data.(*model.SmartImportResult)
					importErr = errors.New(ev.Message)
				case "warning":
					a.logger.Warn().Msg(ev.Message)
				default:
					a.logger.Debug().Str("type", ev.Type).Msg(ev.Message)
				}
			}
			if importErr != nil {
				if result != nil {
					_ = a.printJSON(result)
				}
				return fmt.Errorf("import failed: %w", importErr)
			}
			if result == nil {
				return errors.New("import finished without a result")
			}

			a.logger.Info().
				Str("batch", result.BatchID).
				Str("format", string(result.Format)).
				Int("rates", result.SuccessRates).
				Msg("import finished")
			return a.printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&opts.ProviderCode, "provider", "p", "", "Funder code the rates belong to (required)")
	cmd.Flags().StringVar(&contractType, "contract-type", "", "Contract type for sheets without a contract marker (CH, CHNM, PCH, PCHNM, BSSNL)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-import a file that was already imported")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}
