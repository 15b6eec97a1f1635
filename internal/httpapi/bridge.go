package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/voice"
)

var errBridgeClosed = errors.New("client connection closed")

type bridgeReply struct {
	text string
	err  error
}

// clientBridge exposes the connected device's speech recognition and audio
// output as voice.Recognizer and voice.Output. Every request carries a fresh
// id; replies for ids no longer pending are dropped.
type clientBridge struct {
	send    func(msg any) error
	metrics *observability.Metrics

	mu               sync.Mutex
	captureSupported bool
	locale           string
	pending          map[string]chan bridgeReply
	closed           bool
}

func newClientBridge(send func(any) error, metrics *observability.Metrics) *clientBridge {
	return &clientBridge{
		send:    send,
		metrics: metrics,
		pending: make(map[string]chan bridgeReply),
	}
}

func (b *clientBridge) hello(msg protocol.Hello) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureSupported = msg.CaptureSupported
	b.locale = strings.TrimSpace(msg.Locale)
}

// Available reports whether the client declared speech recognition support.
func (b *clientBridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captureSupported && !b.closed
}

func (b *clientBridge) Recognize(ctx context.Context, locale string) (string, error) {
	b.mu.Lock()
	if b.locale != "" {
		locale = b.locale
	}
	b.mu.Unlock()

	id, ch, err := b.open()
	if err != nil {
		return "", err
	}
	if err := b.send(protocol.CaptureRequest{Type: protocol.TypeCaptureRequest, RequestID: id, Locale: locale}); err != nil {
		b.forget(id)
		return "", err
	}
	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		if b.forget(id) {
			_ = b.send(protocol.CaptureCancel{Type: protocol.TypeCaptureCancel, RequestID: id})
		}
		return "", ctx.Err()
	}
}

func (b *clientBridge) Play(ctx context.Context, res *voice.AudioResource, speed float64) error {
	data := res.Bytes()
	if len(data) == 0 {
		return errors.New("empty audio payload")
	}
	id, ch, err := b.open()
	if err != nil {
		return err
	}
	msg := protocol.AudioPlay{
		Type:        protocol.TypeAudioPlay,
		RequestID:   id,
		Format:      string(res.Format()),
		MIME:        res.Format().MIME(),
		AudioBase64: base64.StdEncoding.EncodeToString(data),
		Rate:        speed,
	}
	if err := b.send(msg); err != nil {
		b.forget(id)
		return err
	}
	select {
	case r := <-ch:
		return r.err
	case <-ctx.Done():
		if b.forget(id) {
			_ = b.send(protocol.AudioStop{Type: protocol.TypeAudioStop, RequestID: id})
		}
		return ctx.Err()
	}
}

// deliver routes a client reply to its pending request.
func (b *clientBridge) deliver(id string, r bridgeReply) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		b.metrics.IncSessionEvent("bridge_stale_reply")
		return false
	}
	ch <- r
	return true
}

func (b *clientBridge) handle(msg any) bool {
	switch m := msg.(type) {
	case protocol.CaptureResult:
		return b.deliver(m.RequestID, bridgeReply{text: m.Transcript})
	case protocol.CaptureError:
		return b.deliver(m.RequestID, bridgeReply{err: &voice.RecognitionError{Code: m.Code, Detail: m.Detail}})
	case protocol.PlaybackEnded:
		return b.deliver(m.RequestID, bridgeReply{})
	case protocol.PlaybackError:
		detail := strings.TrimSpace(m.Detail)
		if detail == "" {
			detail = "client playback error"
		}
		return b.deliver(m.RequestID, bridgeReply{err: fmt.Errorf("client: %s", detail)})
	default:
		return false
	}
}

func (b *clientBridge) open() (string, chan bridgeReply, error) {
	id := uuid.NewString()
	ch := make(chan bridgeReply, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", nil, errBridgeClosed
	}
	b.pending[id] = ch
	return id, ch, nil
}

// forget drops a pending request and reports whether it was still pending.
func (b *clientBridge) forget(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// close fails every pending request.
func (b *clientBridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- bridgeReply{err: errBridgeClosed}
	}
}
