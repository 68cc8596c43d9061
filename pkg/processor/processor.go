package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/types"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/dataset"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/metrics"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/jmmb07/pdf-data-extraction-pipeline/pkg/processor")

// ExpectedYears is the number of year columns the report has always carried.
// Other counts are processed as-is but logged.
const ExpectedYears = 4

type ProcessorConfig struct {
	Workers   int
	Extractor types.TextExtractor
	Parser    *parser.Parser
	// Sink, when set, receives the records of every document that produced any.
	Sink   types.RecordSink
	Logger *slog.Logger
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.Extractor == nil {
		return nil, fmt.Errorf("processor: extractor is required")
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.Parser == nil {
		config.Parser = parser.New(nil)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Processor{
		config: config,
	}, nil
}

// ProcessDocument extracts and parses one document. Failures are reported in
// the result's Err; a document that simply has no header yields no records
// and no error.
func (p *Processor) ProcessDocument(ctx context.Context, doc models.SourceDocument) (records []models.IndicatorRecord, result models.DocumentResult) {
	start := time.Now()
	result.Document = doc
	name := filepath.Base(doc.Path)
	log := p.config.Logger.With(slog.String("document", name))

	ctx, span := tracer.Start(ctx, "processor.ProcessDocument",
		trace.WithAttributes(attribute.String("document", name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			records = nil
			result.Records = 0
			result.Err = fmt.Errorf("panic processing %s: %v", name, r)
		}
		result.Duration = time.Since(start)

		span.SetAttributes(
			attribute.String("tier", string(result.Tier)),
			attribute.Int("records", result.Records),
			attribute.Int("skipped", result.Stats.Skipped))
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, "document failed")
		}
		p.observe(log, result)
	}()

	text, err := p.config.Extractor.Extract(ctx, doc)
	result.Provenance = text.Provenance
	result.Tier = text.Tier
	if err != nil {
		result.Err = err
		return nil, result
	}

	records, stats := p.config.Parser.ParseDocument(text.Text, doc.ReferenceDate, text.Provenance)
	result.Stats = stats
	result.Records = len(records)

	for _, line := range stats.NearMisses {
		log.Debug("row label resembles an indicator but did not match", slog.String("line", line))
	}
	if stats.HeaderFound && len(stats.Years) != ExpectedYears {
		log.Warn("unexpected number of year columns",
			slog.Int("years", len(stats.Years)),
			slog.Any("columns", stats.Years))
	}
	return records, result
}

func (p *Processor) observe(log *slog.Logger, result models.DocumentResult) {
	metrics.DocumentSeconds.WithLabelValues(string(result.Tier)).Observe(result.Duration.Seconds())
	metrics.LinesSkipped.Add(float64(result.Stats.Skipped))
	metrics.Records.Add(float64(result.Records))

	switch {
	case result.Err != nil:
		metrics.Documents.WithLabelValues(metrics.StatusFailed).Inc()
		log.Error("document failed", slog.Any("error", result.Err))
	case !result.Stats.HeaderFound:
		metrics.Documents.WithLabelValues(metrics.StatusNoHeader).Inc()
		log.Warn("no year header found", slog.String("tier", string(result.Tier)))
	case result.Records == 0:
		metrics.Documents.WithLabelValues(metrics.StatusNoRecords).Inc()
		log.Warn("no indicator rows parsed",
			slog.String("tier", string(result.Tier)),
			slog.Int("skipped", result.Stats.Skipped))
	default:
		metrics.Documents.WithLabelValues(metrics.StatusParsed).Inc()
		log.Info("document parsed",
			slog.String("tier", string(result.Tier)),
			slog.String("provenance", result.Provenance.String()),
			slog.Int("records", result.Records),
			slog.Int("skipped", result.Stats.Skipped),
			slog.Duration("took", result.Duration))
	}
}

// ProcessAll runs every document on a bounded worker pool. A failing document
// never stops the others; cancelling ctx stops new documents from starting.
// onResult, if not nil, is called once per document from the worker that
// processed it.
func (p *Processor) ProcessAll(ctx context.Context, docs []models.SourceDocument, onResult func(models.DocumentResult, []models.IndicatorRecord)) (*dataset.Dataset, []models.DocumentResult) {
	runID := uuid.NewString()
	ds := dataset.New()
	results := make([]models.DocumentResult, len(docs))

	p.config.Logger.Info("processing batch",
		slog.String("run_id", runID),
		slog.Int("documents", len(docs)),
		slog.Int("workers", p.config.Workers))

	g := new(errgroup.Group)
	g.SetLimit(p.config.Workers)

	for i, doc := range docs {
		if ctx.Err() != nil {
			results[i] = models.DocumentResult{Document: doc, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			records, result := p.ProcessDocument(ctx, doc)
			if result.Err == nil && len(records) > 0 && p.config.Sink != nil {
				if err := p.config.Sink.SaveDocument(ctx, runID, result.Provenance, records); err != nil {
					p.config.Logger.Error("failed to store records",
						slog.String("document", filepath.Base(doc.Path)),
						slog.Any("error", err))
					result.Err = fmt.Errorf("store: %w", err)
				}
			}

			ds.Append(records)

			results[i] = result

			if onResult != nil {
				onResult(result, records)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.config.Logger.Info("batch finished",
		slog.String("run_id", runID),
		slog.Int("records", ds.Len()))
	return ds, results
}
