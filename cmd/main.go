package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	cfgPkg "github.com/jmmb07/pdf-data-extraction-pipeline/pkg/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Set by the root command before any subcommand runs.
var (
	cfg    *cfgPkg.Config
	logger *slog.Logger
)

func main() {
	var configPath, logLevel, dbURL string

	rootCmd := &cobra.Command{
		Use:   "focus",
		Short: "Focus report extraction pipeline",
		Long: `focus downloads the weekly Focus market report PDFs published by the
Banco Central do Brasil and turns their annual median projections into a
tidy dataset (ref_date, indicator, year, value).

Text is taken from the PDF text layer when it is usable and from OCR
otherwise. Records can also be stored in PostgreSQL, where each report's
forecast curve is indexed for similarity search.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			c, err := cfgPkg.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dbURL != "" {
				c.Database.URL = dbURL
			}
			if errs := c.Validate(); len(errs) > 0 {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = e.Error()
				}
				return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
			}
			for _, w := range c.Warnings() {
				logger.Warn("ineffective config setting", slog.String("field", w.Field), slog.String("detail", w.Message))
			}
			cfg = c
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection string (overrides config and DATABASE_URL)")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(similarCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(indicatorsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}
