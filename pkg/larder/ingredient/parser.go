// Package ingredient splits free-text ingredient lines into name, quantity,
// unit and comment.
package ingredient

import (
	"regexp"
	"strconv"
	"strings"
)

// Parsed is one ingredient line broken into parts. Quantity is nil when the
// line carries no amount; Unit and Comment are empty when absent.
type Parsed struct {
	Name     string
	Quantity *float64
	Unit     string
	Comment  string
}

// Parser parses ingredient lines against a unit lexicon.
type Parser struct {
	lexicon *Lexicon
}

// NewParser creates a parser. A nil lexicon selects DefaultLexicon.
func NewParser(lex *Lexicon) *Parser {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Parser{lexicon: lex}
}

// Lexicon returns the unit lexicon in use.
func (p *Parser) Lexicon() *Lexicon { return p.lexicon }

const number = `(\d+\s+\d+/\d+|\d+/\d+|\d+(?:[.,]\d+)?)`

var (
	quantityPattern    = regexp.MustCompile(`^` + number + `(?:\s*(?:-|–|to)\s*` + number + `)?`)
	parentheticalRegex = regexp.MustCompile(`\(([^()]*)\)`)
	commaSplit         = regexp.MustCompile(`,\s`)
	// A size such as "3 1/2-inch" describes the item, not the amount.
	sizePattern      = regexp.MustCompile(`^` + number + `\s*-?\s*(?:inch(?:es)?|cm|mm|centimet(?:er|re)s?)\b\.?`)
	thousandsPattern = regexp.MustCompile(`^[1-9]\d{0,2}[.,]\d{3}$`)
)

var vulgarFractions = map[rune]string{
	'½': "1/2", '⅓': "1/3", '⅔': "2/3", '¼': "1/4", '¾': "3/4",
	'⅕': "1/5", '⅖': "2/5", '⅗': "3/5", '⅘': "4/5", '⅙': "1/6",
	'⅚': "5/6", '⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

// Parse splits line into its parts. It reports false when nothing usable
// remains, i.e. neither a name nor a comment.
func (p *Parser) Parse(line string) (Parsed, bool) {
	line = expandFractions(strings.Join(strings.Fields(line), " "))
	if line == "" {
		return Parsed{}, false
	}

	var comments []string
	for _, m := range parentheticalRegex.FindAllStringSubmatch(line, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			comments = append(comments, c)
		}
	}
	line = parentheticalRegex.ReplaceAllString(line, " ")

	if loc := commaSplit.FindStringIndex(line + " "); loc != nil && loc[0] < len(line) {
		if c := strings.TrimSpace(line[loc[1]:]); c != "" {
			comments = append(comments, c)
		}
		line = line[:loc[0]]
	}
	line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ","))

	line, size := cutSize(line)

	var out Parsed
	if m := quantityPattern.FindStringSubmatch(line); m != nil {
		if q, ok := quantity(m[1], m[2]); ok {
			out.Quantity = &q
			line = strings.TrimSpace(strings.TrimLeft(line[len(m[0]):], " -–"))
		}
	}
	if size == "" {
		line, size = cutSize(line)
	}
	if size != "" {
		comments = append([]string{size}, comments...)
	}

	words := strings.Fields(line)
	if unit, n := p.lexicon.match(words); n > 0 && (n < len(words) || out.Quantity != nil) {
		out.Unit = unit
		words = words[n:]
	}
	if len(words) > 0 && strings.EqualFold(words[0], "of") {
		words = words[1:]
	}

	out.Name = strings.Join(words, " ")
	out.Comment = strings.Join(comments, ", ")
	if out.Name == "" && out.Comment == "" {
		return Parsed{}, false
	}
	return out, true
}

func cutSize(line string) (rest, size string) {
	loc := sizePattern.FindStringIndex(line)
	if loc == nil {
		return line, ""
	}
	return strings.TrimSpace(line[loc[1]:]), strings.TrimSpace(line[:loc[1]])
}

// expandFractions rewrites unicode vulgar fractions as ASCII, keeping a
// mixed number like "1½" as "1 1/2".
func expandFractions(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { _, ok := vulgarFractions[r]; return ok }) {
		return s
	}
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if frac, ok := vulgarFractions[r]; ok {
			if prev >= '0' && prev <= '9' {
				b.WriteByte(' ')
			}
			b.WriteString(frac)
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func quantity(from, to string) (float64, bool) {
	lo, ok := parseNumber(from)
	if !ok {
		return 0, false
	}
	if to == "" {
		return lo, true
	}
	hi, ok := parseNumber(to)
	if !ok {
		return lo, true
	}
	return (lo + hi) / 2, true
}

func parseNumber(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 2 {
		whole, ok1 := parseNumber(fields[0])
		frac, ok2 := parseNumber(fields[1])
		return whole + frac, ok1 && ok2
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	if thousandsPattern.MatchString(s) {
		s = s[:len(s)-4] + s[len(s)-3:]
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
