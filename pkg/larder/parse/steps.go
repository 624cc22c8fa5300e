// Package parse derives structured values from free recipe text: step
// splitting, temperatures, durations, serving counts, ISO-8601 durations and
// HTML fragments.
package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	temperaturePattern = regexp.MustCompile(`\b(\d{1,3})\s*°?\s*([CF])\b`)
	durationPattern    = regexp.MustCompile(`(?i)\b(\d+)(?:-(\d+))?\s*(h|hr|hrs|hour|hours|m|min|mins|minute|minutes)\b`)
	stepMarkerPattern  = regexp.MustCompile(`\b\d+[.)](?:\s+|$)`)
	leadingMarker      = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
	integerPattern     = regexp.MustCompile(`\d+`)
)

// SplitSteps trims every step and drops the empty ones.
func SplitSteps(steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitInstructions breaks an instruction blob into steps. Numbered markers
// ("1. ", "2) ") at the start of a line take precedence; otherwise each
// non-empty line is a step.
func SplitInstructions(blob string) []string {
	if strings.TrimSpace(blob) == "" {
		return []string{}
	}
	if !leadingMarker.MatchString(blob) {
		return SplitSteps(strings.Split(blob, "\n"))
	}
	normalized := strings.Join(strings.Fields(blob), " ")
	return SplitSteps(stepMarkerPattern.Split(normalized, -1))
}

// ExtractTemperature returns the first temperature in s in Celsius. A number
// only counts when an explicit C or F follows it.
func ExtractTemperature(s string) (int, bool) {
	m := temperaturePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	t, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if m[2] == "F" {
		t = int(math.Round(float64(t-32) * 5 / 9))
	}
	return t, true
}

// ExtractDurations returns every duration mentioned in s, in minutes. A
// range is averaged; a single value averages with itself.
func ExtractDurations(s string) []float64 {
	matches := durationPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		from, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		to := from
		if m[2] != "" {
			if to, err = strconv.Atoi(m[2]); err != nil {
				to = from
			}
		}
		if strings.HasPrefix(strings.ToLower(m[3]), "h") {
			from *= 60
			to *= 60
		}
		out = append(out, float64(from+to)/2)
	}
	return out
}

// StepDuration sums the durations found in a step.
func StepDuration(s string) (float64, bool) {
	ds := ExtractDurations(s)
	if len(ds) == 0 {
		return 0, false
	}
	var total float64
	for _, d := range ds {
		total += d
	}
	return total, true
}

// ParseServings returns the first integer in a yields text such as
// "Serves 4-6" or "12 cookies". Missing or zero counts become 1.
func ParseServings(text string) int {
	m := integerPattern.FindString(text)
	if m == "" {
		return 1
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
