// Package ms converts between short duration strings such as "5s" or "2h"
// and millisecond counts, and formats millisecond counts for humans.
package ms

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	Second = 1000
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Year   = 36525 * Day / 100
)

// ErrInvalid is returned for strings that do not hold a number with a known unit.
var ErrInvalid = errors.New("ms: invalid duration")

type unit struct {
	suffix string
	name   string
	size   int64
}

// Largest first; Short and Long pick the first unit that fits.
var units = []unit{
	{"y", "year", Year},
	{"w", "week", Week},
	{"d", "day", Day},
	{"h", "hour", Hour},
	{"m", "minute", Minute},
	{"s", "second", Second},
}

// Parse returns the number of milliseconds in s. A bare number is taken
// as milliseconds.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	switch suffix := s[i:]; suffix {
	case "", "ms":
		return n, nil
	default:
		for _, u := range units {
			if u.suffix == suffix {
				if n > math.MaxInt64/u.size {
					return 0, fmt.Errorf("%w: %q overflows", ErrInvalid, s)
				}
				return n * u.size, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// ParseMicro is Parse scaled to microseconds.
func ParseMicro(s string) (int64, error) {
	n, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return n * 1000, nil
}

// Short formats ms in the largest whole unit, e.g. "5s" or "250ms".
func Short(ms int64) string {
	for _, u := range units {
		if abs(ms) >= u.size {
			return fmt.Sprintf("%d%s", ms/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%dms", ms)
}

// Long formats ms in words, e.g. "1 second" or "3 hours".
func Long(ms int64) string {
	for _, u := range units {
		if abs(ms) >= u.size {
			return plural(ms/u.size, u.name)
		}
	}
	return plural(ms, "millisecond")
}

func plural(n int64, name string) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d %s", n, name)
	}
	return fmt.Sprintf("%d %ss", n, name)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
