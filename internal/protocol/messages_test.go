package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageText(t *testing.T) {
	raw := []byte(`{"type":"client_message","user_id":"u1","display_name":"Sam","text":"/add_task"}`)

	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(ClientMessage)
	if !ok {
		t.Fatalf("ParseClientMessage() = %T, want ClientMessage", parsed)
	}
	if msg.UserID != "u1" || msg.DisplayName != "Sam" || msg.Text != "/add_task" {
		t.Fatalf("decoded message mismatch: %+v", msg)
	}
}

func TestParseClientMessageButton(t *testing.T) {
	raw := []byte(`{"type":"client_button","user_id":"u1","data":"edit_active"}`)

	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(ClientButton)
	if !ok {
		t.Fatalf("ParseClientMessage() = %T, want ClientButton", parsed)
	}
	if msg.UserID != "u1" || msg.Data != "edit_active" {
		t.Fatalf("decoded button mismatch: %+v", msg)
	}
}

func TestParseClientMessageRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"missing user", `{"type":"client_message","text":"hi"}`},
		{"missing text", `{"type":"client_message","user_id":"u1"}`},
		{"missing data", `{"type":"client_button","user_id":"u1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseClientMessage(%s) accepted a bad frame", tc.raw)
			}
		})
	}
}

func TestParseClientMessageRejectsServerTypes(t *testing.T) {
	for _, typ := range []string{"bot_message", "reminder", "error_event", "mystery"} {
		raw := []byte(`{"type":"` + typ + `","user_id":"u1","text":"x","data":"x"}`)
		if _, err := ParseClientMessage(raw); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("ParseClientMessage(type=%s) error = %v, want ErrUnsupportedType", typ, err)
		}
	}
}
