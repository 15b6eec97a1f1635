package voice

import (
	"sync"
	"time"
)

type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventTurnAppended    EventType = "turn_appended"
	EventNotice          EventType = "notice"
	EventSpeakingChanged EventType = "speaking_changed"
)

// Event is an observable change of a Conversation.
type Event struct {
	Type     EventType
	State    State
	Previous State
	Turn     *Turn
	Notice   *Notice
	Speaking bool
	At       time.Time
}

type NoticeCode string

const (
	NoticeCaptureUnsupported NoticeCode = "capture_unsupported"
	NoticePermissionDenied   NoticeCode = "permission_denied"
	NoticeCaptureFailed      NoticeCode = "capture_failed"
	NoticeTTSUnavailable     NoticeCode = "tts_unavailable"
	NoticePlaybackFailed     NoticeCode = "playback_failed"
	NoticePlaybackLocked     NoticeCode = "playback_locked"
)

// Notice is a user-visible, toast-level message. It never carries raw
// backend errors.
type Notice struct {
	Code   NoticeCode `json:"code"`
	Title  string     `json:"title"`
	Detail string     `json:"detail"`
}

var notices = map[NoticeCode]Notice{
	NoticeCaptureUnsupported: {
		Title:  "Speech Recognition Not Available",
		Detail: "This device doesn't support speech recognition. Please type your message instead.",
	},
	NoticePermissionDenied: {
		Title:  "Microphone Access Denied",
		Detail: "Please allow microphone access to use voice recognition.",
	},
	NoticeCaptureFailed: {
		Title:  "Voice Recognition Error",
		Detail: "Please try again or type your message.",
	},
	NoticeTTSUnavailable: {
		Title:  "Text-to-Speech Not Available",
		Detail: "No speech engine is available to read the response aloud.",
	},
	NoticePlaybackFailed: {
		Title:  "Audio Playback Error",
		Detail: "There was an error playing the audio. Please try again.",
	},
	NoticePlaybackLocked: {
		Title:  "Response Ready",
		Detail: "Click the speak button to hear the response.",
	},
}

func newNotice(code NoticeCode) Notice {
	n := notices[code]
	n.Code = code
	return n
}

// eventHub fans events out to subscribers. Slow subscribers lose events
// rather than block the conversation.
type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
	drops  func()
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

func (h *eventHub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *eventHub) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			if h.drops != nil {
				h.drops()
			}
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
