package parser

import (
	"regexp"
	"strings"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/shopspring/decimal"
)

// ColumnLayout locates the forecast columns among the numbers of a report
// row. Each year column is followed by its min/median/max/std-dev metadata, so
// the year values sit at fixed positions among all numeric tokens of the row.
type ColumnLayout struct {
	MinTokens int
	Offsets   []int
}

var (
	// StructuredLayout applies to text from the layout and plain tiers, where
	// every number keeps its decimal comma.
	StructuredLayout = ColumnLayout{MinTokens: 14, Offsets: []int{2, 6, 10, 13}}

	// OCRLayout applies to recognized text. The OCR pattern also matches the
	// integer columns that the comma pattern skips, so rows are longer.
	OCRLayout = ColumnLayout{MinTokens: 18, Offsets: []int{2, 7, 12, 17}}
)

var (
	commaNumberRe = regexp.MustCompile(`-?\d+,\d+`)
	ocrNumberRe   = regexp.MustCompile(`-?\d+\.?\d*`)
)

// ParseValues extracts the year values of one report row. It returns nil
// unless exactly len(years) values were found.
func ParseValues(line string, years []string, provenance models.Provenance) []decimal.Decimal {
	var values []decimal.Decimal
	if provenance == models.OCR {
		values = parseOCRValues(line)
	} else {
		values = parseStructuredValues(line)
	}

	if len(values) != len(years) {
		return nil
	}
	return values
}

func parseStructuredValues(line string) []decimal.Decimal {
	tokens := commaNumberRe.FindAllString(line, -1)
	if len(tokens) < StructuredLayout.MinTokens {
		return nil
	}

	values := make([]decimal.Decimal, 0, len(StructuredLayout.Offsets))
	for _, idx := range StructuredLayout.Offsets {
		if idx >= len(tokens) {
			continue
		}
		v, err := decimal.NewFromString(strings.Replace(tokens[idx], ",", ".", 1))
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

func parseOCRValues(line string) []decimal.Decimal {
	var tokens []string
	for _, tok := range ocrNumberRe.FindAllString(strings.ReplaceAll(line, ",", "."), -1) {
		if tok != "" && tok != "." {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) < OCRLayout.MinTokens {
		return nil
	}

	values := make([]decimal.Decimal, 0, len(OCRLayout.Offsets))
	for _, idx := range OCRLayout.Offsets {
		if idx >= len(tokens) {
			continue
		}
		v, err := decimal.NewFromString(RepairOCRToken(tokens[idx]))
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// RepairOCRToken restores a decimal point the recognizer dropped. Report
// values carry two decimals, so a bare 3-digit token is read as d.dd and a
// bare 4-digit token as dd.dd. Negative tokens and tokens that already hold a
// point are returned unchanged.
func RepairOCRToken(tok string) string {
	if strings.Contains(tok, ".") || strings.HasPrefix(tok, "-") {
		return tok
	}
	switch len(tok) {
	case 3:
		return tok[:1] + "." + tok[1:]
	case 4:
		return tok[:2] + "." + tok[2:]
	}
	return tok
}
