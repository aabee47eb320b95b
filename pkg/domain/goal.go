package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxGoalSize caps goal text accepted from any entry point (CLI, HTTP, MCP).
const MaxGoalSize = 4096

var (
	ErrGoalTooLarge    = errors.New("goal exceeds maximum allowed size")
	ErrGoalInvalidUTF8 = errors.New("goal contains invalid UTF-8 sequences")
)

// SanitizeGoal enforces the size limit, validates UTF-8, and strips control
// characters other than newline, tab, and carriage return. Oversized input is
// rejected rather than truncated so callers see exactly what will run.
func SanitizeGoal(goal string) (string, error) {
	if len(goal) > MaxGoalSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrGoalTooLarge, len(goal), MaxGoalSize)
	}
	if !utf8.ValidString(goal) {
		return "", ErrGoalInvalidUTF8
	}

	clean := true
	for _, r := range goal {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return strings.TrimSpace(goal), nil
	}

	var b strings.Builder
	b.Grow(len(goal))
	for _, r := range goal {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
