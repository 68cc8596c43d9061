package types

import (
	"context"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
)

// Core interfaces
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]models.SourceDocument, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, doc models.SourceDocument) (models.ExtractedText, error)
}

// RecordSink persists the records of one processed document.
type RecordSink interface {
	SaveDocument(ctx context.Context, runID string, provenance models.Provenance, records []models.IndicatorRecord) error
	Close()
}
