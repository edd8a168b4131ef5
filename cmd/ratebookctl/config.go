package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ratebook/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	var outputPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration (file + .env + flags) as config.toml",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !overwrite {
				if _, err := os.Stat(outputPath); err == nil {
					return fmt.Errorf("%s already exists (use --overwrite)", outputPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if err := config.SaveConfig(a.cfg, outputPath); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			a.logger.Info().Str("file", outputPath).Msg("config written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "config.toml", "Output path")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}
