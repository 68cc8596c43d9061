package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/types"
	cfgPkg "github.com/jmmb07/pdf-data-extraction-pipeline/pkg/config"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/dataset"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/extractor"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/indicator"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/processor"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/schedule"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/scraper"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/store"
	"github.com/jmmb07/pdf-data-extraction-pipeline/server"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// mondayNoon is used when --schedule is passed without a value.
const mondayNoon = "0 12 * * 1"

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func newScraper(onProgress func(scraper.Report, string, error)) (*scraper.Client, error) {
	return scraper.NewWithConfig(scraper.ScraperConfig{
		APIURL:     cfg.Scraper.APIURL,
		BaseURL:    cfg.Scraper.BaseURL,
		RateLimit:  cfg.Scraper.RateLimit,
		Timeout:    cfg.Scraper.Timeout,
		UserAgent:  cfg.Scraper.UserAgent,
		Logger:     logger,
		OnProgress: onProgress,
	})
}

func newExtractor(rasterizer string) (*extractor.Extractor, error) {
	config := extractor.ExtractorConfig{
		DPI:             cfg.Extractor.DPI,
		Language:        cfg.Extractor.Language,
		EncodingMarkers: cfg.Extractor.EncodingMarkers,
		ScratchDir:      cfg.Extractor.ScratchDir,
		MaxOCRWorkers:   cfg.Extractor.MaxOCRWorkers,
		Logger:          logger,
	}
	switch rasterizer {
	case cfgPkg.RasterizerFitz:
		config.Rasterizer = extractor.FitzRasterizer{}
	case cfgPkg.RasterizerEmbedded:
		config.Rasterizer = extractor.EmbeddedImageRasterizer{}
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", rasterizer)
	}
	return extractor.NewWithConfig(config), nil
}

// openStore migrates and connects to the database. It returns nil when no
// database is configured.
func openStore(ctx context.Context) (*store.ForecastStore, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	if err := store.Migrate(ctx, cfg.Database.URL, logger); err != nil {
		return nil, err
	}
	return store.NewWithConfig(ctx, store.ForecastStoreConfig{
		ConnString:  cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		SearchLimit: cfg.Database.SearchLimit,
		Logger:      logger,
	})
}

func newProcessor(ext types.TextExtractor, st *store.ForecastStore, workers int) (*processor.Processor, error) {
	config := processor.ProcessorConfig{
		Workers:   workers,
		Extractor: ext,
		Logger:    logger,
	}
	if st != nil {
		config.Sink = st
	}
	return processor.NewWithConfig(config)
}

// writeOutputs writes the CSV and, when a path is set, the spreadsheet. An
// empty dataset writes nothing.
func writeOutputs(ds *dataset.Dataset, csvPath, xlsxPath string) error {
	if ds.Len() == 0 {
		color.Yellow("no document processed successfully")
		return nil
	}
	if err := ds.WriteCSV(csvPath); err != nil {
		return fmt.Errorf("failed to write %s: %w", csvPath, err)
	}
	color.Green("✓ Wrote %d records to %s", ds.Len(), csvPath)

	if xlsxPath != "" {
		if err := ds.WriteXLSX(xlsxPath); err != nil {
			return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
		}
		color.Green("✓ Wrote %s", xlsxPath)
	}
	return nil
}

func printFailures(results []models.DocumentResult) {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			color.Red("  ✗ %s: %v", filepath.Base(r.Document.Path), r.Err)
		}
	}
	if failed > 0 {
		color.Yellow("%d of %d documents failed", failed, len(results))
	}
}

func fetchCmd() *cobra.Command {
	var limit int
	var dir string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the latest Focus reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Scraper.Limit
			}
			if dir == "" {
				dir = cfg.Scraper.RawDir
			}

			bar := getProgressBar(-1, "Downloading reports")
			client, err := newScraper(func(scraper.Report, string, error) {
				bar.Add(1)
			})
			if err != nil {
				return fmt.Errorf("failed to initialize scraper: %w", err)
			}

			stats, err := client.DownloadAll(cmd.Context(), limit, dir)
			bar.Finish()
			if err != nil {
				return fmt.Errorf("failed to fetch reports: %w", err)
			}

			color.Green("\n✓ Listed %d reports: %d downloaded, %d already present, %d failed",
				stats.Listed, len(stats.Downloaded), stats.Skipped, stats.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Number of most recent reports to list")
	cmd.Flags().StringVar(&dir, "dir", "", "Download directory (default scraper.raw_dir)")
	return cmd
}

func processCmd() *cobra.Command {
	var dir, output, xlsx, rasterizer string
	var workers int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract the annual projections from downloaded reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = cfg.Scraper.RawDir
			}
			if output == "" {
				output = cfg.Output.CSVPath
			}
			if xlsx == "" {
				xlsx = cfg.Output.XLSXPath
			}
			if rasterizer == "" {
				rasterizer = cfg.Extractor.Rasterizer
			}
			if workers == 0 {
				workers = cfg.Processor.Workers
			}

			docs, err := scraper.LocalSource{Dir: dir, Logger: logger}.ListDocuments(ctx)
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}
			if len(docs) == 0 {
				color.Yellow("no PDF found in %s", dir)
				return nil
			}

			ext, err := newExtractor(rasterizer)
			if err != nil {
				return err
			}
			defer ext.Close()

			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if st != nil {
				defer st.Close()
			}

			p, err := newProcessor(ext, st, workers)
			if err != nil {
				return err
			}

			color.Blue("\nProcessing %d reports from %s\n", len(docs), dir)
			bar := getProgressBar(len(docs), "Processing reports")
			ds, results := p.ProcessAll(ctx, docs, func(models.DocumentResult, []models.IndicatorRecord) {
				bar.Add(1)
			})
			bar.Finish()
			fmt.Println()

			printFailures(results)
			return writeOutputs(ds, output, xlsx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of report PDFs (default scraper.raw_dir)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV output path (default output.csv_path)")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Also write a spreadsheet to this path")
	cmd.Flags().StringVar(&rasterizer, "rasterizer", "", "OCR page rasterizer: fitz or embedded")
	cmd.Flags().IntVar(&workers, "workers", 0, "Documents processed concurrently")
	return cmd
}

// scheduledJob downloads new reports and processes only those.
func scheduledJob(p *processor.Processor) schedule.Job {
	return func(ctx context.Context) error {
		client, err := newScraper(nil)
		if err != nil {
			return err
		}
		stats, err := client.DownloadAll(ctx, cfg.Scraper.Limit, cfg.Scraper.RawDir)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if len(stats.Downloaded) == 0 {
			logger.Info("no new reports")
			return nil
		}

		docs := make([]models.SourceDocument, 0, len(stats.Downloaded))
		for _, path := range stats.Downloaded {
			ref, err := scraper.ParseFileName(path)
			if err != nil {
				return err
			}
			docs = append(docs, models.SourceDocument{Path: path, ReferenceDate: ref})
		}

		ds, _ := p.ProcessAll(ctx, docs, nil)
		if ds.Len() == 0 {
			logger.Warn("no document processed successfully", slog.Int("documents", len(docs)))
			return nil
		}
		return dataset.MergeCSV(cfg.Output.CSVPath, ds)
	}
}

func serveCmd() *cobra.Command {
	var addr, spec string
	var runNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket processing endpoint and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("schedule") {
				spec = cfg.Server.Schedule
			}

			ext, err := newExtractor(cfg.Extractor.Rasterizer)
			if err != nil {
				return err
			}
			defer ext.Close()

			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			p, err := newProcessor(ext, st, cfg.Processor.Workers)
			if err != nil {
				return err
			}

			serverConfig := server.Config{
				Addr:           addr,
				RawDir:         cfg.Scraper.RawDir,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Processor:      p,
				Logger:         logger,
			}
			if st != nil {
				defer st.Close()
				serverConfig.Store = st
			}
			srv, err := server.NewWSServer(serverConfig)
			if err != nil {
				return err
			}

			if runNow && spec == "" {
				return errors.New("--run-now needs a schedule (--schedule or server.schedule)")
			}
			if spec != "" {
				scheduler := schedule.NewScheduler(spec, scheduledJob(p), 0, logger)
				if err := scheduler.Start(ctx); err != nil {
					return fmt.Errorf("invalid schedule %q: %w", spec, err)
				}
				defer func() { <-scheduler.Stop().Done() }()
				color.Cyan("Next scheduled run: %s", scheduler.Next().Format(time.RFC1123))

				if runNow {
					go func() {
						if err := scheduler.RunNow(ctx); err != nil {
							logger.Error("startup run failed", slog.Any("error", err))
						}
					}()
				}
			}

			color.Green("Listening on %s", addr)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().StringVar(&spec, "schedule", "", "Cron expression for fetch-and-process runs")
	cmd.Flags().Lookup("schedule").NoOptDefVal = mondayNoon
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Also run fetch-and-process once at startup")
	return cmd
}

func similarCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "similar <indicator> <YYYY-MM-DD>",
		Short: "List the reports whose forecast curve is closest to a given report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			date, err := time.Parse(dataset.DateLayout, args[1])
			if err != nil {
				return fmt.Errorf("invalid date: %w", err)
			}

			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if st == nil {
				return errors.New("similar needs a database (set database.url or DATABASE_URL)")
			}
			defer st.Close()

			spinner := getSpinner("Searching forecast curves")
			neighbors, err := st.Similar(ctx, args[0], date, limit)
			spinner.Finish()
			fmt.Print("\r")
			if err != nil {
				return err
			}

			if len(neighbors) == 0 {
				color.Yellow("no curve stored for %s on %s", args[0], args[1])
				return nil
			}
			color.Cyan("\nReports closest to %s on %s:", args[0], args[1])
			for _, n := range neighbors {
				fmt.Printf("  %s  first year %d  distance %.4f\n",
					n.ReferenceDate.Format(dataset.DateLayout), n.FirstYear, n.Distance)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Number of reports to list (default database.search_limit)")
	return cmd
}

func loadCmd() *cobra.Command {
	var replaceRun string

	cmd := &cobra.Command{
		Use:   "load [csv]",
		Short: "Store a previously written CSV in the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := cfg.Output.CSVPath
			if len(args) > 0 {
				path = args[0]
			}

			ds, err := dataset.ReadCSV(path)
			if err != nil {
				return err
			}

			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if st == nil {
				return errors.New("load needs a database (set database.url or DATABASE_URL)")
			}
			defer st.Close()

			runID := uuid.NewString()
			if replaceRun != "" {
				deleted, err := st.DeleteRun(ctx, replaceRun)
				if err != nil {
					return fmt.Errorf("failed to delete run %s: %w", replaceRun, err)
				}
				color.Yellow("Deleted %d records of run %s", deleted, replaceRun)
				runID = replaceRun
			}

			// the CSV does not carry provenance
			groups := dataset.GroupByDocument(ds.Records())
			bar := getProgressBar(len(groups), "Storing reports")
			for _, records := range groups {
				if err := st.SaveDocument(ctx, runID, models.Structured, records); err != nil {
					bar.Finish()
					return fmt.Errorf("failed to store %s: %w",
						records[0].ReferenceDate.Format(dataset.DateLayout), err)
				}
				bar.Add(1)
			}
			bar.Finish()

			color.Green("\n✓ Stored %d records from %d reports (run %s)", ds.Len(), len(groups), runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&replaceRun, "replace-run", "", "Delete the records of this run ID and store the CSV under it")
	return cmd
}

func indicatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indicators",
		Short: "List the canonical indicators and the row labels mapped to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dict := indicator.Focus()
			names := dict.Canonical()

			labels := make(map[string][]string, len(names))
			for _, a := range dict.Aliases() {
				labels[a.Canonical] = append(labels[a.Canonical], a.Label)
			}

			color.Cyan("%d row labels for %d indicators:", dict.Len(), len(names))
			for _, name := range names {
				fmt.Printf("\n  %s\n", color.GreenString(name))
				for _, label := range labels[name] {
					fmt.Printf("    %s\n", label)
				}
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.URL == "" {
				return errors.New("no database configured (set database.url or DATABASE_URL)")
			}
			if err := store.Migrate(cmd.Context(), cfg.Database.URL, logger); err != nil {
				return err
			}
			color.Green("✓ Database is up to date")
			return nil
		},
	}
}
