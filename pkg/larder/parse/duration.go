package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

var isoDurationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D(?:AYS?)?)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as "PT1H20M" or
// "P1DT2H" to minutes. Blank input is zero. A bare number is read as
// minutes, which some sites emit instead of a duration.
func ParseISODuration(s string) (float64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q: %w", s, internalerr.ErrInvalidInput)
		}
		return n, nil
	}

	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("parse duration %q: %w", s, internalerr.ErrInvalidInput)
	}

	// weeks, days, hours, minutes, seconds
	scale := []float64{7 * 24 * 60, 24 * 60, 60, 1, 1.0 / 60}
	var total float64
	for i, factor := range scale {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, internalerr.ErrInvalidInput)
		}
		total += v * factor
	}
	return total, nil
}
