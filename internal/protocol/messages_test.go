package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageHello(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"hello","capture_supported":true,"locale":"en-GB"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	hello, ok := msg.(Hello)
	if !ok {
		t.Fatalf("message type = %T, want Hello", msg)
	}
	if !hello.CaptureSupported || hello.Locale != "en-GB" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"replay","turn_id":"t1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionReplay || control.TurnID != "t1" {
		t.Fatalf("unexpected client control: %+v", control)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"approve_task_step"}`)); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestParseClientMessageBridgeReplies(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"capture_result","request_id":"r1","transcript":"hi"}`, CaptureResult{Type: TypeCaptureResult, RequestID: "r1", Transcript: "hi"}},
		{`{"type":"capture_error","request_id":"r1","code":"not-allowed"}`, CaptureError{Type: TypeCaptureError, RequestID: "r1", Code: "not-allowed"}},
		{`{"type":"playback_ended","request_id":"r2"}`, PlaybackEnded{Type: TypePlaybackEnded, RequestID: "r2"}},
		{`{"type":"playback_error","request_id":"r2","detail":"NotAllowedError"}`, PlaybackError{Type: TypePlaybackError, RequestID: "r2", Detail: "NotAllowedError"}},
	}
	for _, tc := range cases {
		got, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseClientMessage(%s) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestParseClientMessageRejectsMissingRequestID(t *testing.T) {
	for _, raw := range []string{
		`{"type":"capture_result","transcript":"hi"}`,
		`{"type":"capture_error","request_id":"r1"}`,
		`{"type":"playback_ended"}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected validation error", raw)
		}
	}
}

func BenchmarkParseClientMessageSendText(b *testing.B) {
	raw := []byte(`{"type":"send_text","text":"What tasks are due this week?"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(SendText); !ok {
			b.Fatalf("message type = %T, want SendText", msg)
		}
	}
}
