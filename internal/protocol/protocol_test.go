package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidPin(t *testing.T) {
	cases := []struct {
		pin  string
		want bool
	}{
		{"12345678", true},
		{"00000000", true},
		{"1234567", false},
		{"123456789", false},
		{"1234567a", false},
		{"", false},
		{"12 45678", false},
	}
	for _, tc := range cases {
		if got := ValidPin(tc.pin); got != tc.want {
			t.Errorf("ValidPin(%q) = %v, want %v", tc.pin, got, tc.want)
		}
	}
}

func TestDecodeRegister(t *testing.T) {
	raw := []byte(`{"type":"register","pin":"12345678","username":"ana","email":"a@x.io","phone":"555","profession":"carpenter"}`)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	f, ok := decoded.(Register)
	if !ok {
		t.Fatalf("Decode() returned %T, want Register", decoded)
	}
	if f.Pin != "12345678" || f.Username != "ana" {
		t.Errorf("register frame = %+v", f)
	}
	if got := f.Profile(); got.Profession != "carpenter" || got.Email != "a@x.io" {
		t.Errorf("Profile() = %+v", got)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"subscribe"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Decode() error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{broken`)); err == nil {
		t.Error("Decode() accepted malformed JSON")
	}
}

// A message event must flatten the stored message fields alongside the type
// tag, matching the wire contract.
func TestMessageEventFlattensFields(t *testing.T) {
	ev := NewMessageEvent(Message{Text: "hi", FromPin: "12345678", FromUsername: "ana", Ts: 42})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	for _, key := range []string{"type", "text", "fromPin", "fromUsername", "ts"} {
		if _, ok := got[key]; !ok {
			t.Errorf("marshaled message event missing top-level %q: %s", key, data)
		}
	}
}

// An unprecedented pair yields an empty list, not null.
func TestHistoryNeverNull(t *testing.T) {
	data, err := json.Marshal(NewHistory(nil))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if string(got.Messages) != "[]" {
		t.Errorf("empty history marshals to %s, want []", got.Messages)
	}
}

func TestDecodeEventRoundTrip(t *testing.T) {
	frames := []any{
		NewRegistered("12345678"),
		NewPaired("87654321", Profile{Username: "ben"}),
		NewHistory([]Message{{Text: "hi", FromPin: "12345678", Ts: 1}}),
		NewMessageEvent(Message{Text: "yo", FromPin: "87654321", Ts: 2}),
		NewTypingEvent("12345678", "ana"),
		NewPresence("87654321", true),
		NewPartnerDisconnected(),
		NewError("PIN not found"),
	}

	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("Marshal(%T) error: %v", frame, err)
		}
		decoded, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent(%s) error: %v", data, err)
		}
		if decoded == nil {
			t.Fatalf("DecodeEvent(%s) returned nil", data)
		}
	}
}
