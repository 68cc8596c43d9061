package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/indicator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refDate = time.Date(2025, 9, 26, 0, 0, 0, 0, time.UTC)

const sampleReport = `Focus Relatório de Mercado
26 de setembro de 2025
Mediana - Agregado 2022 2023 2024 2025
IPCA (variação %) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00
   Selic (% a.a) 10,00 10,25 10,50 1,00 2,00 3,00 11,00 4,00 5,00 6,00 12,00 7,00 8,00 13,00
PIB Total 2,00 2,10
Taxa de câmbio (R$/US$) sem dados
Fonte: Banco Central do Brasil`

func TestParseDocument(t *testing.T) {
	p := New(indicator.Focus())

	records, stats := p.ParseDocument(sampleReport, refDate, models.Structured)
	require.Len(t, records, 8)

	assert.True(t, stats.HeaderFound)
	assert.Equal(t, []string{"2022", "2023", "2024", "2025"}, stats.Years)
	assert.Equal(t, 4, stats.Matched)
	// PIB and câmbio match an alias with the wrong value count; title and
	// source lines match nothing and are not counted
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 8, stats.Records)

	want := []struct {
		indicator string
		year      int
		value     string
	}{
		{"IPCA", 2022, "3"},
		{"IPCA", 2023, "7"},
		{"IPCA", 2024, "11"},
		{"IPCA", 2025, "14"},
		{"Selic", 2022, "10.5"},
		{"Selic", 2023, "11"},
		{"Selic", 2024, "12"},
		{"Selic", 2025, "13"},
	}
	for i, w := range want {
		assert.Equal(t, refDate, records[i].ReferenceDate)
		assert.Equal(t, w.indicator, records[i].Indicator)
		assert.Equal(t, w.year, records[i].Year)
		assert.Equal(t, w.value, records[i].Value.String())
	}
}

func TestParseDocumentEndToEnd(t *testing.T) {
	text := strings.Join([]string{
		"2022 2023 2024 2025",
		"IPCA (%) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00 15,00",
	}, "\n")

	records, _ := New(nil).ParseDocument(text, refDate, models.Structured)
	require.Len(t, records, 4)
	for i, year := range []int{2022, 2023, 2024, 2025} {
		assert.Equal(t, year, records[i].Year)
		assert.Equal(t, "IPCA", records[i].Indicator)
		assert.Equal(t, refDate, records[i].ReferenceDate)
	}
}

func TestParseDocumentNoHeader(t *testing.T) {
	text := "IPCA (%) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00\n2024 2025"

	records, stats := New(nil).ParseDocument(text, refDate, models.Structured)
	assert.Empty(t, records)
	assert.False(t, stats.HeaderFound)
	assert.Equal(t, 2, stats.Lines)
}

func TestParseDocumentEmpty(t *testing.T) {
	records, stats := New(nil).ParseDocument("", refDate, models.OCR)
	assert.Empty(t, records)
	assert.False(t, stats.HeaderFound)
}

func TestParseDocumentHeaderWithStrayYear(t *testing.T) {
	// a fifth 4-digit token in the header is kept, so no row can match
	text := strings.Join([]string{
		"Página 1234 2022 2023 2024 2025",
		"IPCA (%) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00",
	}, "\n")

	records, stats := New(nil).ParseDocument(text, refDate, models.Structured)
	assert.Empty(t, records)
	assert.Equal(t, []string{"1234", "2022", "2023", "2024", "2025"}, stats.Years)
	assert.Equal(t, 1, stats.Skipped)
}

func TestParseDocumentFirstAliasWins(t *testing.T) {
	dict := indicator.New([]indicator.Alias{
		{Label: "IPCA", Canonical: "generic"},
		{Label: "IPCA (%)", Canonical: "specific"},
	})
	text := "2022 2023 2024 2025\nIPCA (%) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00"

	records, _ := New(dict).ParseDocument(text, refDate, models.Structured)
	require.Len(t, records, 4)
	for _, r := range records {
		assert.Equal(t, "generic", r.Indicator)
	}
}

func TestParseDocumentDeterministic(t *testing.T) {
	p := New(indicator.Focus())

	first, firstStats := p.ParseDocument(sampleReport, refDate, models.Structured)
	for i := 0; i < 5; i++ {
		again, stats := p.ParseDocument(sampleReport, refDate, models.Structured)
		assert.Equal(t, first, again)
		assert.Equal(t, firstStats, stats)
	}
}

func TestParseDocumentOCR(t *testing.T) {
	text := strings.Join([]string{
		"Mediana - Agregado 2023 2024 2025 2026",
		"IPCA (variação %) 3 8 401 2 5 4 6 4001 1 9 9 8 4,01 7 6 5 3 -401",
	}, "\n")

	records, stats := New(nil).ParseDocument(text, refDate, models.OCR)
	require.Len(t, records, 4)
	assert.Equal(t, 0, stats.Skipped)

	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.Value.String()
	}
	assert.Equal(t, []string{"4.01", "40.01", "4.01", "-401"}, got)
	assert.Equal(t, 2026, records[3].Year)
}

func TestFindYears(t *testing.T) {
	years, ok := FindYears([]string{"no header", "2024  2025\t2026 2027 extra", "2030 2031 2032 2033"})
	require.True(t, ok)
	assert.Equal(t, []string{"2024", "2025", "2026", "2027"}, years)

	_, ok = FindYears([]string{"2024 2025 2026"})
	assert.False(t, ok)
}

func TestParseDocumentNearMisses(t *testing.T) {
	text := strings.Join([]string{
		"Mediana - Agregado 2024 2025 2026 2027",
		"lPCA (variacão %) 1,00 2,00 3,00 4,00 5,00 6,00 7,00 8,00 9,00 10,00 11,00 12,00 13,00 14,00",
		"Fonte: Banco Central do Brasil",
	}, "\n")

	records, stats := New(nil).ParseDocument(text, refDate, models.Structured)
	assert.Empty(t, records)
	assert.Equal(t, 0, stats.Matched)
	require.Len(t, stats.NearMisses, 1)
	assert.True(t, strings.HasPrefix(stats.NearMisses[0], "lPCA"))
}
