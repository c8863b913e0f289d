package invocation

import (
	"strings"
	"unicode/utf8"
)

// MaxInlineChars is the longest task passed through argv.
const MaxInlineChars = 800

// Reason explains why a task is streamed over stdin.
type Reason string

const (
	ReasonPiped     Reason = "piped input"
	ReasonExplicit  Reason = `explicit "-"`
	ReasonNewline   Reason = "newline"
	ReasonBackslash Reason = "backslash"
	ReasonLength    Reason = "length>800"
)

// Decision is the routing result for one task.
type Decision struct {
	Delivery Delivery
	Reasons  []Reason
}

// Route picks Streamed delivery when argv would be unsafe or lossy for the
// task: input that arrived on a pipe, an explicit "-", embedded newlines or
// backslashes, or more than MaxInlineChars characters. Every matching reason
// is reported.
func Route(task string, piped, explicit bool) Decision {
	var reasons []Reason
	if piped {
		reasons = append(reasons, ReasonPiped)
	}
	if explicit {
		reasons = append(reasons, ReasonExplicit)
	}
	if strings.Contains(task, "\n") {
		reasons = append(reasons, ReasonNewline)
	}
	if strings.Contains(task, `\`) {
		reasons = append(reasons, ReasonBackslash)
	}
	if utf8.RuneCountInString(task) > MaxInlineChars {
		reasons = append(reasons, ReasonLength)
	}

	if len(reasons) == 0 {
		return Decision{Delivery: Inline}
	}
	return Decision{Delivery: Streamed, Reasons: reasons}
}

// JoinReasons renders reasons for a log line.
func JoinReasons(reasons []Reason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
