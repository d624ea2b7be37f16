package logging

import (
	"encoding/json"
	"time"
)

// Event is the structured record of a notable hook decision.
// Required fields: Timestamp, RunID, Process, EventType, Summary.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Process   string          `json:"process"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Symbol    string          `json:"symbol,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	EventHookBypass       = "hook_bypass"
	EventHookError        = "hook_error"
	EventOriginalResolved = "original_resolved"
)

// HookBypassData is the data payload for hook_bypass events.
type HookBypassData struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// HookErrorData is the data payload for hook_error events.
type HookErrorData struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
	Errno  int    `json:"errno"`
}

// OriginalResolvedData is the data payload for original_resolved events.
type OriginalResolvedData struct {
	Symbol string `json:"symbol"`
}
