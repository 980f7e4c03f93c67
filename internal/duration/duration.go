// Package duration parses human-readable duration text ("2 hours", "90m",
// "1h30m45s") from project configuration files. Parsing is pure and
// deterministic; allowed-range checks are a separate concern so that callers
// can distinguish "not duration text" from "duration text outside bounds".
package duration

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrEmptyInput is returned for empty or all-whitespace input.
	ErrEmptyInput = errors.New("empty duration string")
	// ErrNoTokens is returned when no <number><unit> run is found. A bare
	// number without a unit is not duration text.
	ErrNoTokens = errors.New("no recognizable duration tokens")
	// ErrNonPositive is returned when the parsed total is zero.
	ErrNonPositive = errors.New("duration must be positive")
	// ErrOutOfRange is returned by CheckBounds for durations outside
	// [MinTimeout, MaxTimeout]. It is a validation failure, not a parse failure.
	ErrOutOfRange = errors.New("duration outside allowed bounds")
)

// Bounds enforced by config validation. The parser itself accepts any
// positive duration; callers validating a project timeout use CheckBounds.
const (
	MinTimeout = time.Second
	MaxTimeout = 30 * 24 * time.Hour
)

// tokenPattern extracts every <number><unit> run. Long unit names come first
// so that "30 minutes" captures the word rather than the leading letter.
// Unknown characters between runs are tolerated: "x2h" parses the same as
// "2h". That leniency is inherited behavior pinned by tests.
var tokenPattern = re2.MustCompile(`(?i)(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|[smhd])`)

// Parse converts duration text into a time.Duration. Accepted units are
// seconds, minutes, hours and days in long, short and single-letter forms;
// multi-unit strings like "1h30m45s" are summed. Input is NFKC-normalized
// before matching so typographic variants of digits and spaces parse too.
func Parse(input string) (time.Duration, error) {
	s := strings.TrimSpace(norm.NFKC.String(input))
	if s == "" {
		return 0, ErrEmptyInput
	}

	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, ErrNoTokens
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			// Magnitude does not fit in int64; skip the run.
			continue
		}
		total += time.Duration(n) * unitDuration(m[2])
	}

	if total <= 0 {
		return 0, ErrNonPositive
	}
	return total, nil
}

// ParseLenient is the CLI registration entry point. A bare numeric string is
// interpreted as literal milliseconds; anything else goes through Parse.
// The two interpretations must not be conflated: "90" is 90ms here but
// invalid for Parse.
func ParseLenient(input string) (time.Duration, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrEmptyInput
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, ErrNonPositive
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	return Parse(s)
}

// CheckBounds reports whether d lies within the timeout range allowed for
// project configuration. Out-of-range is ErrOutOfRange so that callers can
// keep validation failures distinct from parse failures.
func CheckBounds(d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return ErrOutOfRange
	}
	return nil
}

// unitDuration maps a matched unit token to its duration. Every accepted
// spelling of a unit starts with the same letter, so the first byte decides.
func unitDuration(unit string) time.Duration {
	switch unit[0] {
	case 's', 'S':
		return time.Second
	case 'm', 'M':
		return time.Minute
	case 'h', 'H':
		return time.Hour
	case 'd', 'D':
		return 24 * time.Hour
	default:
		return 0
	}
}
