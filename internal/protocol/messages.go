package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// client -> server
	TypeHello         MessageType = "hello"
	TypeSendText      MessageType = "send_text"
	TypeClientControl MessageType = "client_control"
	TypeCaptureResult MessageType = "capture_result"
	TypeCaptureError  MessageType = "capture_error"
	TypePlaybackEnded MessageType = "playback_ended"
	TypePlaybackError MessageType = "playback_error"

	// server -> client
	TypeSessionReady    MessageType = "session_ready"
	TypeStateChanged    MessageType = "state_changed"
	TypeTurnAppended    MessageType = "turn_appended"
	TypeNotice          MessageType = "notice"
	TypeSpeakingChanged MessageType = "speaking_changed"
	TypeCaptureRequest  MessageType = "capture_request"
	TypeCaptureCancel   MessageType = "capture_cancel"
	TypeAudioPlay       MessageType = "audio_play"
	TypeAudioStop       MessageType = "audio_stop"
	TypeErrorEvent      MessageType = "error_event"
)

// Client control actions.
const (
	ActionStartCapture = "start_capture"
	ActionStop         = "stop"
	ActionInteraction  = "interaction"
	ActionReplay       = "replay"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Hello declares what the connected device can do.
type Hello struct {
	Type             MessageType `json:"type"`
	CaptureSupported bool        `json:"capture_supported"`
	Locale           string      `json:"locale,omitempty"`
}

type SendText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TurnID string      `json:"turn_id,omitempty"`
}

type CaptureResult struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"request_id"`
	Transcript string      `json:"transcript"`
}

type CaptureError struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type PlaybackEnded struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type PlaybackError struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Detail    string      `json:"detail,omitempty"`
}

type SessionReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id"`
	State     string      `json:"state"`
	Turns     []Turn      `json:"turns,omitempty"`
}

type StateChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Previous  string      `json:"previous"`
	TSMs      int64       `json:"ts_ms"`
}

type Turn struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedMs int64  `json:"created_ms"`
}

type TurnAppended struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turn      Turn        `json:"turn"`
}

type Notice struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Title     string      `json:"title"`
	Detail    string      `json:"detail"`
}

type SpeakingChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Speaking  bool        `json:"speaking"`
}

type CaptureRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Locale    string      `json:"locale"`
}

type CaptureCancel struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type AudioPlay struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	Format      string      `json:"format"`
	MIME        string      `json:"mime"`
	AudioBase64 string      `json:"audio_base64"`
	Rate        float64     `json:"rate"`
}

type AudioStop struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeHello:
		var msg Hello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSendText:
		var msg SendText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch strings.TrimSpace(msg.Action) {
		case ActionStartCapture, ActionStop, ActionInteraction, ActionReplay:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeCaptureResult:
		var msg CaptureResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, errors.New("invalid capture_result")
		}
		return msg, nil
	case TypeCaptureError:
		var msg CaptureError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" || msg.Code == "" {
			return nil, errors.New("invalid capture_error")
		}
		return msg, nil
	case TypePlaybackEnded:
		var msg PlaybackEnded
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, errors.New("invalid playback_ended")
		}
		return msg, nil
	case TypePlaybackError:
		var msg PlaybackError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, errors.New("invalid playback_error")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
