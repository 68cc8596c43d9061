// Package parser turns the extracted text of a Focus report into indicator
// records. Which numeric contract a line follows depends only on the
// provenance of the text.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/indicator"
)

var (
	headerRe = regexp.MustCompile(`(\d{4}\s+){3}\d{4}`)
	yearRe   = regexp.MustCompile(`\d{4}`)
)

type Parser struct {
	dict *indicator.Dictionary
}

func New(dict *indicator.Dictionary) *Parser {
	if dict == nil {
		dict = indicator.Focus()
	}
	return &Parser{dict: dict}
}

// FindYears returns the year columns of the first header line, in order of
// appearance. Tokens are neither deduplicated nor counted.
func FindYears(lines []string) ([]string, bool) {
	for _, line := range lines {
		if headerRe.MatchString(line) {
			return yearRe.FindAllString(line, -1), true
		}
	}
	return nil, false
}

// ParseDocument scans text line by line and emits one record per year for
// every indicator row whose value count matches the year columns. A text
// without a header line yields no records.
func (p *Parser) ParseDocument(text string, ref time.Time, provenance models.Provenance) ([]models.IndicatorRecord, models.ParseStats) {
	lines := strings.Split(text, "\n")
	stats := models.ParseStats{Lines: len(lines)}

	years, ok := FindYears(lines)
	if !ok {
		return nil, stats
	}
	stats.HeaderFound = true
	stats.Years = years

	var records []models.IndicatorRecord
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		alias, ok := p.dict.Match(trimmed)
		if !ok {
			if _, _, near := p.dict.Closest(trimmed); near {
				stats.NearMisses = append(stats.NearMisses, trimmed)
			}
			continue
		}
		stats.Matched++

		values := ParseValues(line, years, provenance)
		if values == nil {
			stats.Skipped++
			continue
		}
		for i, year := range years {
			y, _ := strconv.Atoi(year)
			records = append(records, models.IndicatorRecord{
				ReferenceDate: ref,
				Indicator:     alias.Canonical,
				Year:          y,
				Value:         values[i],
			})
		}
	}

	stats.Records = len(records)
	return records, stats
}
