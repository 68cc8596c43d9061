// Package indicator holds the mapping from the row labels printed in Focus
// reports to canonical indicator names. Labels changed several times over the
// years; every historical variant collapses to one canonical name.
package indicator

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Alias is one historical row label and the canonical indicator it denotes.
type Alias struct {
	Label     string
	Canonical string
}

// Dictionary is an ordered alias list. Lines are tested against aliases in
// order and the first prefix match wins, so a line is never attributed to two
// indicators. When one label is a prefix of another, the longer label must be
// listed first.
type Dictionary struct {
	aliases []Alias
}

var focusAliases = []Alias{
	// IPCA
	{"IPCA (variação %)", "IPCA"},
	{"IPCA (%)", "IPCA"},

	// PIB
	{"PIB Total (variação % sobre ano anterior)", "PIB"},
	{"PIB (% de crescimento)", "PIB"},
	{"PIB Total", "PIB"},

	// Câmbio
	{"Câmbio (R$/US$)", "Câmbio"},
	{"Taxa de câmbio - Fim de período (R$/US$)", "Câmbio"},
	{"Taxa de câmbio (R$/US$)", "Câmbio"},

	// Selic
	{"Selic (% a.a)", "Selic"},
	{"Meta Selic - fim de período (% a.a.)", "Selic"},
	{"Meta Selic (% a.a.)", "Selic"},

	// IGP-M
	{"IGP-M (variação %)", "IGP-M"},
	{"IGP-M (%)", "IGP-M"},

	// IPCA Administrados
	{"IPCA Administrados (variação %)", "IPCA Administrados"},
	{"Preços administrados (%)", "IPCA Administrados"},

	{"Produção Industrial (% de crescimento)", "Produção Industrial"},

	// Contas externas
	{"Conta corrente (US$ bilhões)", "Conta Corrente"},
	{"Conta Corrente (US$ bilhões)", "Conta Corrente"},
	{"Balança comercial (US$ bilhões)", "Balança Comercial"},
	{"Balança Comercial (US$ bilhões)", "Balança Comercial"},
	{"Investimento direto no país (US$ bilhões)", "Investimento Direto"},
	{"Investimento Direto no País (US$ bilhões)", "Investimento Direto"},

	// Setor público
	{"Dívida líquida do setor público (% do PIB)", "Dívida Líquida"},
	{"Dívida Líquida do Setor Público (% do PIB)", "Dívida Líquida"},
	{"Resultado primário (% do PIB)", "Resultado Primário"},
	{"Resultado Primário (% do PIB)", "Resultado Primário"},
	{"Resultado nominal (% do PIB)", "Resultado Nominal"},
	{"Resultado Nominal (% do PIB)", "Resultado Nominal"},
}

// Focus returns the dictionary for the Focus market report template.
func Focus() *Dictionary {
	return New(focusAliases)
}

// New builds a dictionary that tests aliases in the given order.
func New(aliases []Alias) *Dictionary {
	cp := make([]Alias, len(aliases))
	copy(cp, aliases)
	return &Dictionary{aliases: cp}
}

// Match returns the first alias whose label prefixes line. The caller is
// expected to pass an already trimmed line.
func (d *Dictionary) Match(line string) (Alias, bool) {
	for _, a := range d.aliases {
		if strings.HasPrefix(line, a.Label) {
			return a, true
		}
	}
	return Alias{}, false
}

// Closest compares the label part of line (everything before the first
// digit) with every alias label, ignoring case, and returns the nearest alias
// if it is within one edit per five label characters. It is meant for
// reporting rows that Match missed, typically after OCR damaged the label.
func (d *Dictionary) Closest(line string) (Alias, int, bool) {
	label := strings.ToLower(rowLabel(line))
	if len([]rune(label)) < 3 {
		return Alias{}, 0, false
	}

	best, bestDist := Alias{}, -1
	for _, a := range d.aliases {
		dist := fuzzy.LevenshteinDistance(label, strings.ToLower(a.Label))
		if bestDist < 0 || dist < bestDist {
			best, bestDist = a, dist
		}
	}
	if bestDist < 0 || bestDist > len([]rune(best.Label))/5 {
		return Alias{}, 0, false
	}
	return best, bestDist, true
}

func rowLabel(line string) string {
	if i := strings.IndexFunc(line, unicode.IsDigit); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), "-"))
}

func (d *Dictionary) Aliases() []Alias {
	cp := make([]Alias, len(d.aliases))
	copy(cp, d.aliases)
	return cp
}

// Canonical lists the distinct canonical names in first-seen order.
func (d *Dictionary) Canonical() []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range d.aliases {
		if !seen[a.Canonical] {
			seen[a.Canonical] = true
			names = append(names, a.Canonical)
		}
	}
	return names
}

func (d *Dictionary) Len() int {
	return len(d.aliases)
}
