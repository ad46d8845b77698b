package processing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sample is one decoded sensor reading. Arrival order is its only ordering.
type Sample float64

// ErrEmptyLine marks a blank line. It is skipped without a diagnostic.
var ErrEmptyLine = errors.New("empty line")

type RejectedLineError struct {
	Reason   string
	Original string
}

func (e *RejectedLineError) Error() string {
	return fmt.Sprintf("%s: %q", e.Reason, e.Original)
}

// ParseLine decodes one raw line. The trimmed text must be exactly one decimal floating point
// literal; magnitudes beyond float64 become ±Inf rather than being rejected.
func ParseLine(raw string) (Sample, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrEmptyLine
	}

	if hasHexPrefix(trimmed) {
		return 0, rejectLine(raw)
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, rejectLine(raw)
	}

	return Sample(value), nil
}

func rejectLine(raw string) error {
	return &RejectedLineError{
		Reason:   "invalid data",
		Original: raw,
	}
}

// ParseFloat accepts hex mantissas; they are not decimal literals
func hasHexPrefix(s string) bool {
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
