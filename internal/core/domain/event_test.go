package domain

import (
	"encoding/json"
	"testing"
)

func TestEventTypeMatches(t *testing.T) {
	tests := []struct {
		typ    EventType
		filter string
		want   bool
	}{
		{EventInsert, "", true},
		{EventInsert, "*", true},
		{EventInsert, "insert", true},
		{EventUpdate, " UPDATE ", true},
		{EventDelete, "INSERT", false},
	}
	for _, tt := range tests {
		if got := tt.typ.Matches(tt.filter); got != tt.want {
			t.Errorf("%s.Matches(%q) = %v, want %v", tt.typ, tt.filter, got, tt.want)
		}
	}
}

func TestEventCodec(t *testing.T) {
	payload, err := EncodeEvent(ChangeEvent{
		Topic:   "orders",
		Type:    "insert",
		Payload: json.RawMessage(`{"id":7}`),
	})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}

	ev, err := DecodeEvent("ignored", payload)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Topic != "orders" || ev.Type != EventInsert || string(ev.Payload) != `{"id":7}` {
		t.Errorf("unexpected event %+v", ev)
	}

	ev, err = DecodeEvent("items", `{"type":"DELETE"}`)
	if err != nil || ev.Topic != "items" {
		t.Errorf("topic not taken from channel: %+v, %v", ev, err)
	}

	for _, bad := range []string{`{}`, `not json`} {
		if _, err := DecodeEvent("items", bad); err == nil {
			t.Errorf("DecodeEvent(%q) should fail", bad)
		}
	}
	if _, err := EncodeEvent(ChangeEvent{Type: EventUpdate}); err == nil {
		t.Error("EncodeEvent without topic should fail")
	}
}

func TestErrorFormat(t *testing.T) {
	err := &Error{Message: "boom", Code: CodeTimedOut, Status: 504}
	if got, want := err.Error(), "boom (code=ETIMEDOUT, status=504)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := (&Error{}).Error(), "data source error"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	wrapped := json.Unmarshal([]byte("x"), &struct{}{})
	e := &Error{Err: wrapped}
	if e.Unwrap() != wrapped {
		t.Error("Unwrap should return the cause")
	}
	if _, ok := AsError(e); !ok {
		t.Error("AsError should find *Error")
	}
}
