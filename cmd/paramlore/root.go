package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/paramlore/internal/config"
	"github.com/hyperengineering/paramlore/internal/knowledge"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath     string
	kbPathOverride string
	jsonOutput     bool
)

var rootCmd = &cobra.Command{
	Use:   "paramlore",
	Short: "paramlore - audio plugin parameter discovery",
	Long: "Discover the parameters of audio effect plugins: representation, range, unit and " +
		"string grammar, with categorization and a knowledge base that improves with every run.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (overrides PARAMLORE_CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&kbPathOverride, "kb", "",
		"Knowledge base path (overrides config and PARAMLORE_KB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and installs the logger on the command's
// stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if kbPathOverride != "" {
		cfg.Knowledge.Path = kbPathOverride
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openPersister returns the configured backend and a close function.
func openPersister(cfg *config.Config) (knowledge.Persister, func() error, error) {
	path := cfg.Knowledge.Path
	switch cfg.Knowledge.Backend {
	case config.BackendSQLite:
		p, err := knowledge.NewSQLitePersister(path)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return knowledge.NewFilePersister(path), func() error { return nil }, nil
	}
}

// openBase loads the knowledge base with the configured catalog and
// signature threshold.
func openBase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*knowledge.Base, func() error, error) {
	opts := []knowledge.Option{
		knowledge.WithSignatureThreshold(cfg.Discovery.SignatureThreshold),
		knowledge.WithLogger(logger),
	}
	if cfg.Knowledge.Catalog != "" {
		data, err := os.ReadFile(cfg.Knowledge.Catalog)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog: %w", err)
		}
		catalog, err := knowledge.ParseCatalog(data)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, knowledge.WithCatalog(catalog))
	}

	p, closeFn, err := openPersister(cfg)
	if err != nil {
		return nil, nil, err
	}
	kb, err := knowledge.Open(ctx, p, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return kb, closeFn, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
