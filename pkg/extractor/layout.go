package extractor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// PDFLayoutReader rebuilds the rows of the first page from glyph positions.
type PDFLayoutReader struct {
	// WordGap is the horizontal gap, as a fraction of the font size, above
	// which two glyphs are separated by a space.
	WordGap float64
	// RowTolerance is the vertical distance, as a fraction of the font size,
	// within which glyphs belong to the same row.
	RowTolerance float64
}

func (l PDFLayoutReader) FirstPage(ctx context.Context, path string) (text string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if r.NumPage() < 1 {
		return "", ErrNoPages
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return "", ErrNoPages
	}

	// the content interpreter panics on malformed operators
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("read page 1: %v", rec)
		}
	}()
	glyphs := page.Content().Text
	if err := ctx.Err(); err != nil {
		return "", err
	}

	gap := l.WordGap
	if gap == 0 {
		gap = 0.2
	}
	tolerance := l.RowTolerance
	if tolerance == 0 {
		tolerance = 0.5
	}

	var sb strings.Builder
	for _, row := range groupRows(glyphs, tolerance) {
		sb.WriteString(joinGlyphs(row, gap))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// groupRows clusters glyphs whose baselines are within tolerance*FontSize of
// the first glyph of the row, top row first. Glyph order inside a row is the
// content stream order.
func groupRows(glyphs []pdf.Text, tolerance float64) [][]pdf.Text {
	kept := make([]pdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		// TJ arrays end with a synthetic newline glyph
		if strings.TrimFunc(g.S, unicode.IsControl) == "" {
			continue
		}
		kept = append(kept, g)
	}

	// PDF y grows upwards
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Y > kept[j].Y })

	var rows [][]pdf.Text
	var anchor float64
	for _, g := range kept {
		limit := tolerance * math.Max(g.FontSize, 1)
		if len(rows) == 0 || math.Abs(anchor-g.Y) > limit {
			rows = append(rows, nil)
			anchor = g.Y
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], g)
	}
	return rows
}

func joinGlyphs(texts []pdf.Text, gap float64) string {
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].X < texts[j].X })

	var sb strings.Builder
	var end float64
	spaced := true
	for _, t := range texts {
		if !spaced && t.X-end > gap*t.FontSize && !strings.HasPrefix(t.S, " ") {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.S)
		end = t.X + t.W
		spaced = strings.HasSuffix(t.S, " ")
	}
	return strings.TrimRight(sb.String(), " ")
}
