package ingredient

import (
	"sort"
	"strings"
)

// Lexicon maps unit spellings to a canonical unit name.
//
// Lookups are case-insensitive and ignore a trailing period, so "Tbsp." and
// "tbsp" resolve the same way. Multi-word variants such as "fl oz" are
// supported; the parser prefers the longest match.
type Lexicon struct {
	// canonical -> all variants (including canonical itself)
	units map[string][]string

	// variant -> canonical
	reverseIndex map[string]string

	// longest variant, in words
	maxWords int
}

// NewLexicon creates an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{
		units:        make(map[string][]string),
		reverseIndex: make(map[string]string),
	}
}

// DefaultLexicon returns the built-in kitchen units.
func DefaultLexicon() *Lexicon {
	lex := NewLexicon()
	for canonical, variants := range defaultUnits {
		lex.AddUnit(canonical, variants)
	}
	return lex
}

var defaultUnits = map[string][]string{
	"cup":         {"cups", "c"},
	"tablespoon":  {"tablespoons", "tbsp", "tbsps", "tbs", "tbl"},
	"teaspoon":    {"teaspoons", "tsp", "tsps"},
	"gram":        {"grams", "g", "gr", "gramme", "grammes"},
	"kilogram":    {"kilograms", "kg", "kgs", "kilo", "kilos"},
	"milligram":   {"milligrams", "mg"},
	"liter":       {"liters", "litre", "litres", "l"},
	"milliliter":  {"milliliters", "millilitre", "millilitres", "ml"},
	"deciliter":   {"deciliters", "decilitre", "decilitres", "dl"},
	"ounce":       {"ounces", "oz"},
	"fluid ounce": {"fluid ounces", "fl oz", "fl. oz"},
	"pound":       {"pounds", "lb", "lbs"},
	"pint":        {"pints", "pt"},
	"quart":       {"quarts", "qt"},
	"gallon":      {"gallons", "gal"},
	"pinch":       {"pinches"},
	"dash":        {"dashes"},
	"clove":       {"cloves"},
	"can":         {"cans"},
	"package":     {"packages", "pkg", "packet", "packets"},
	"slice":       {"slices"},
	"stick":       {"sticks"},
	"bunch":       {"bunches"},
	"handful":     {"handfuls"},
	"sprig":       {"sprigs"},
	"piece":       {"pieces"},
	"drop":        {"drops"},
}

// AddUnit registers canonical with its variants. Re-adding a canonical unit
// replaces its previous variants.
func (l *Lexicon) AddUnit(canonical string, variants []string) {
	canonical = normalizeUnit(canonical)
	if canonical == "" {
		return
	}

	if old, exists := l.units[canonical]; exists {
		for _, v := range old {
			delete(l.reverseIndex, v)
		}
	}

	normalized := []string{canonical}
	seen := map[string]bool{canonical: true}
	for _, v := range variants {
		v = normalizeUnit(v)
		if v != "" && !seen[v] {
			normalized = append(normalized, v)
			seen[v] = true
		}
	}
	l.units[canonical] = normalized

	for _, v := range normalized {
		l.reverseIndex[v] = canonical
		if n := len(strings.Fields(v)); n > l.maxWords {
			l.maxWords = n
		}
	}
}

// Lookup returns the canonical unit for a spelling.
func (l *Lexicon) Lookup(s string) (string, bool) {
	canonical, ok := l.reverseIndex[normalizeUnit(s)]
	return canonical, ok
}

// Units returns the canonical units in sorted order.
func (l *Lexicon) Units() []string {
	out := make([]string, 0, len(l.units))
	for u := range l.units {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Variants returns every spelling of canonical, canonical first.
func (l *Lexicon) Variants(canonical string) []string {
	vs := l.units[normalizeUnit(canonical)]
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// match finds the longest unit at the start of words and returns the
// canonical unit and how many words it consumed.
func (l *Lexicon) match(words []string) (string, int) {
	limit := l.maxWords
	if limit > len(words) {
		limit = len(words)
	}
	for n := limit; n > 0; n-- {
		if canonical, ok := l.Lookup(strings.Join(words[:n], " ")); ok {
			return canonical, n
		}
	}
	return "", 0
}

func normalizeUnit(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimSuffix(s, ".")
}
