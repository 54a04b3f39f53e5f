package delay

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidFormat indicates the delay string is not <int>[m|h|d] or a bare integer.
	ErrInvalidFormat = errors.New("delay: invalid format")
	// ErrNonPositive indicates a syntactically valid delay that is zero or negative.
	ErrNonPositive = errors.New("delay: must be positive")
)

// Parse converts a compact delay ("30d", "12h", "45m" or bare seconds "90")
// into a duration. Any other suffix is read as part of a second count and
// fails. Negative values are accepted; use ParsePositive to reject them.
func Parse(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidFormat)
	}

	unit := time.Second
	digits := s
	switch s[len(s)-1] {
	case 'm':
		unit, digits = time.Minute, s[:len(s)-1]
	case 'h':
		unit, digits = time.Hour, s[:len(s)-1]
	case 'd':
		unit, digits = 24*time.Hour, s[:len(s)-1]
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	limit := int64(math.MaxInt64 / int64(unit))
	if n > limit || n < -limit {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidFormat, raw)
	}
	return time.Duration(n) * unit, nil
}

// ParsePositive parses raw and rejects zero or negative results.
func ParsePositive(raw string) (time.Duration, error) {
	d, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNonPositive, raw)
	}
	return d, nil
}
