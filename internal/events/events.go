// Package events decodes the JSON-lines stream emitted by `codex exec --json`
// and folds it into the two values a caller of codexrun cares about: the last
// agent message and the session (thread) identifier.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record types understood by the reducer.
const (
	TypeThreadStarted = "thread.started"
	TypeItemCompleted = "item.completed"

	// ItemTypeAgentMessage is the item type carrying the agent's answer.
	ItemTypeAgentMessage = "agent_message"
)

// Kind tags the variant held by an Event.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindThreadStarted
	KindItemCompleted
)

func (k Kind) String() string {
	switch k {
	case KindThreadStarted:
		return "thread_started"
	case KindItemCompleted:
		return "item_completed"
	default:
		return "unrecognized"
	}
}

// Event is one decoded record from the agent's stdout.
type Event struct {
	Kind Kind
	// Type is the raw "type" field, kept for logging even when unrecognized.
	Type string

	// ThreadID is set for KindThreadStarted.
	ThreadID string

	// ItemType, Text and HasText are set for KindItemCompleted. HasText is
	// false when the payload was missing or not a string / string array.
	ItemType string
	Text     string
	HasText  bool
}

// IsAgentMessage reports whether the event is a completed agent message with usable text.
func (e Event) IsAgentMessage() bool {
	return e.Kind == KindItemCompleted && e.ItemType == ItemTypeAgentMessage && e.HasText && e.Text != ""
}

// ParseError reports a line that is not a JSON object at all.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse line: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decode parses a single output line. Only a line that is not a JSON object
// returns an error; unknown or partially-formed records come back as
// KindUnrecognized. Field names match exactly, so "TYPE" is not "type".
func Decode(line []byte) (Event, error) {
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, &ParseError{Line: append([]byte(nil), line...), Err: err}
	}

	typ, _ := stringField(rec, "type")
	switch typ {
	case TypeThreadStarted:
		id, ok := stringField(rec, "thread_id")
		if !ok || id == "" {
			return Event{Kind: KindUnrecognized, Type: typ}, nil
		}
		return Event{Kind: KindThreadStarted, Type: typ, ThreadID: id}, nil

	case TypeItemCompleted:
		var item map[string]json.RawMessage
		if json.Unmarshal(rec["item"], &item) != nil || item == nil {
			return Event{Kind: KindUnrecognized, Type: typ}, nil
		}
		itemType, ok := stringField(item, "type")
		if !ok || itemType == "" {
			return Event{Kind: KindUnrecognized, Type: typ}, nil
		}
		text, ok := NormalizeText(item["text"])
		return Event{
			Kind:     KindItemCompleted,
			Type:     typ,
			ItemType: itemType,
			Text:     text,
			HasText:  ok,
		}, nil

	default:
		return Event{Kind: KindUnrecognized, Type: typ}, nil
	}
}

// stringField returns obj[key] when it holds a JSON string.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

// NormalizeText turns an item payload into a single string. A JSON string is
// used verbatim, an array of strings is concatenated in order with no
// separator, anything else is reported as absent.
func NormalizeText(text json.RawMessage) (string, bool) {
	if len(text) == 0 || string(text) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(text, &s); err == nil {
		return s, true
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(text, &parts); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, part := range parts {
		var frag string
		if string(part) == "null" {
			return "", false
		}
		if err := json.Unmarshal(part, &frag); err != nil {
			return "", false
		}
		b.WriteString(frag)
	}
	return b.String(), true
}
