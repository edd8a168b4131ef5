// Package main provides the ratebookctl command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ratebook/internal/config"
	"ratebook/internal/importer"
	"ratebook/internal/server"
	"ratebook/internal/store"
)

// app 命令共享状态
type app struct {
	configPath string
	dataDir    string
	driver     string
	pretty     bool
	verbose    bool

	out    io.Writer
	logger zerolog.Logger
	cfg    *config.AppConfig
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ratebookctl",
		Short: "Analyse, import and export vehicle leasing ratebooks",
		Long: `ratebookctl recognises funder ratebook workbooks (tabular or matrix layouts),
imports their rates into the configured store and exports batches back to xlsx.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file path (default: config.toml next to the executable)")
	flags.StringVar(&a.dataDir, "data-dir", "", "Data directory (overrides config)")
	flags.StringVar(&a.driver, "driver", "", "Store driver: sqlite or postgres (overrides config)")
	flags.BoolVar(&a.pretty, "pretty", false, "Pretty-print JSON output")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log progress events")

	root.AddCommand(
		newAnalyzeCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newBatchesCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()

	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	var (
		cfg *config.AppConfig
		err error
	)
	if a.configPath != "" {
		cfg, _, err = config.LoadFrom(a.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.dataDir != "" {
		cfg.Data.DataDir = a.dataDir
	}
	if a.driver != "" {
		cfg.Data.Driver = a.driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// openStore 打开存储，调用方负责关闭
func (a *app) openStore(ctx context.Context) (store.Repository, error) {
	return server.OpenStore(ctx, a.cfg)
}

func (a *app) coordinator(st importer.BatchStore) (*importer.Coordinator, error) {
	return server.NewCoordinator(a.cfg, st)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	if a.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func readInput(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}
