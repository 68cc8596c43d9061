package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provenance tells the parser which numeric-format contract the text follows.
// The plain tier shares the structured contract; only OCR differs.
type Provenance int

const (
	Structured Provenance = iota
	OCR
)

func (p Provenance) String() string {
	if p == OCR {
		return "ocr"
	}
	return "structured"
}

// Tier identifies the extraction tier that produced a text.
type Tier string

const (
	TierLayout Tier = "layout"
	TierPlain  Tier = "plain"
	TierOCR    Tier = "ocr"
)

type SourceDocument struct {
	Path          string
	ReferenceDate time.Time
}

type TierAttempt struct {
	Tier     Tier
	Accepted bool
	Reason   string
	Err      error
}

type ExtractedText struct {
	Text       string
	Provenance Provenance
	Tier       Tier
	Attempts   []TierAttempt
}

type IndicatorRecord struct {
	ReferenceDate time.Time
	Indicator     string
	Year          int
	Value         decimal.Decimal
}

type ParseStats struct {
	Lines       int
	Matched     int
	Skipped     int
	Records     int
	HeaderFound bool
	Years       []string
	// NearMisses holds lines that matched no alias but closely resemble one.
	NearMisses []string
}

type DocumentResult struct {
	Document   SourceDocument
	Provenance Provenance
	Tier       Tier
	Records    int
	Stats      ParseStats
	Duration   time.Duration
	Err        error
}
