package model

import (
	"fmt"
	"strings"
)

// Priority orders eligible jobs for dispatch: low < normal < high < urgent.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, String needs value receiver
type Priority int

const (
	// PriorityLow is dispatched after every other priority.
	PriorityLow Priority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh is dispatched before normal work.
	PriorityHigh
	// PriorityUrgent is dispatched first.
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

// Valid returns true if the Priority is one of the known levels.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a textual priority into its level.
func ParsePriority(s string) (Priority, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == v {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("invalid priority: %q", s)
}

// MarshalText renders the priority by name so JSON payloads and events stay readable.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Priority to allow env and JSON parsing.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
