package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChangeEvent is a change notification delivered on a topic.
type ChangeEvent struct {
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventType names the kind of change, e.g. INSERT or UPDATE.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventAny matches every event type when used as a filter.
	EventAny EventType = "*"
)

// Matches reports whether t passes filter. An empty filter or "*" matches everything.
func (t EventType) Matches(filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == string(EventAny) {
		return true
	}
	return strings.EqualFold(string(t), filter)
}

// EncodeEvent serializes ev for a notification channel. The type is upper-cased.
func EncodeEvent(ev ChangeEvent) (string, error) {
	if ev.Topic == "" {
		return "", fmt.Errorf("event has no topic")
	}
	ev.Type = EventType(strings.ToUpper(string(ev.Type)))
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(b), nil
}

// DecodeEvent parses a notification payload. A missing topic is taken from the channel.
func DecodeEvent(topic, payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Topic == "" {
		ev.Topic = topic
	}
	if ev.Type == "" {
		return ChangeEvent{}, fmt.Errorf("event has no type")
	}
	return ev, nil
}
