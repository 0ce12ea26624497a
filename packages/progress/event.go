// Package progress emits ordered execution progress events. Payloads are
// sanitized before publication so a single oversized response body can
// never swamp a subscriber.
package progress

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a phase of a report's execution.
type EventType string

const (
	EventQueued          EventType = "task_queued"
	EventStarted         EventType = "started"
	EventStepProgress    EventType = "step_progress"
	EventBlocked         EventType = "blocked"
	EventRetrying        EventType = "retrying"
	EventAssertionResult EventType = "assertion_result"
	EventFinished        EventType = "finished"
)

const (
	maxEventBytes  = 32768
	maxStringLen   = 2048
	maxItems       = 20
	maxDepth       = 4
	truncatedSuffx = "… (truncated)"
)

// Event is one progress notification. Payload is already sanitized by the
// time an Event leaves NewEvent.
type Event struct {
	Type      EventType      `json:"type"`
	ReportID  string         `json:"report_id"`
	StepAlias string         `json:"step_alias,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
	Truncated bool           `json:"truncated,omitempty"`
}

// NewEvent builds a sanitized event stamped with the current UTC time.
func NewEvent(reportID string, eventType EventType, stepAlias string, payload map[string]any) Event {
	event := Event{
		Type:      eventType,
		ReportID:  reportID,
		StepAlias: stepAlias,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		sanitized, _ := sanitizeValue(payload, 0, maxDepth, maxStringLen, maxItems).(map[string]any)
		event.Payload = sanitized
	}
	return ensureSize(event)
}

// sanitizeValue bounds strings, collection sizes, and nesting depth.
// Values past the depth limit collapse to a __truncated__ marker.
func sanitizeValue(value any, depth, depthLimit, stringLimit, itemLimit int) any {
	switch v := value.(type) {
	case nil, bool, int, int32, int64, uint, uint64, float32, float64:
		return v
	case string:
		if len(v) <= stringLimit {
			return v
		}
		return v[:stringLimit] + truncatedSuffx
	case []byte:
		return sanitizeValue(string(v), depth, depthLimit, stringLimit, itemLimit)
	case []any:
		if depth >= depthLimit {
			return []any{"__truncated__"}
		}
		out := make([]any, 0, len(v))
		for i, item := range v {
			if i >= itemLimit {
				out = append(out, map[string]any{"__truncated__": true, "count": len(v)})
				break
			}
			out = append(out, sanitizeValue(item, depth+1, depthLimit, stringLimit, itemLimit))
		}
		return out
	case map[string]any:
		if depth >= depthLimit {
			return map[string]any{"__truncated__": true}
		}
		out := make(map[string]any, len(v))
		count := 0
		for key, item := range v {
			if count >= itemLimit {
				out["__truncated__"] = true
				break
			}
			out[key] = sanitizeValue(item, depth+1, depthLimit, stringLimit, itemLimit)
			count++
		}
		return out
	case map[string]string:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[key] = item
		}
		return sanitizeValue(converted, depth, depthLimit, stringLimit, itemLimit)
	default:
		return sanitizeValue(fmt.Sprintf("%v", v), depth, depthLimit, stringLimit, itemLimit)
	}
}

// ensureSize re-sanitizes with tighter limits when the encoded event would
// exceed the byte cap, falling back to a stub payload as a last resort.
func ensureSize(event Event) Event {
	encoded, err := json.Marshal(event)
	if err == nil && len(encoded) <= maxEventBytes {
		return event
	}

	event.Truncated = true
	if event.Payload != nil {
		tightened, _ := sanitizeValue(event.Payload, 0, 2, 512, 5).(map[string]any)
		event.Payload = tightened
	} else {
		event.Payload = map[string]any{"message": "payload omitted"}
	}

	encoded, err = json.Marshal(event)
	if err == nil && len(encoded) <= maxEventBytes {
		return event
	}
	event.Payload = map[string]any{"message": "payload truncated due to size limits"}
	return event
}
