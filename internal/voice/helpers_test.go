package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/logging"
)

const waitTimeout = 2 * time.Second

type recognizeResult struct {
	text string
	err  error
}

// scriptedRecognizer hands out one result channel per Recognize call.
type scriptedRecognizer struct {
	calls    chan chan recognizeResult
	honorCtx bool
}

func newScriptedRecognizer(honorCtx bool) *scriptedRecognizer {
	return &scriptedRecognizer{calls: make(chan chan recognizeResult, 8), honorCtx: honorCtx}
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, _ string) (string, error) {
	ch := make(chan recognizeResult, 1)
	r.calls <- ch
	if r.honorCtx {
		select {
		case res := <-ch:
			return res.text, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	res := <-ch
	return res.text, res.err
}

func (r *scriptedRecognizer) next(t *testing.T) chan recognizeResult {
	t.Helper()
	select {
	case ch := <-r.calls:
		return ch
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for Recognize call")
		return nil
	}
}

type fixedRecognizer struct {
	text string
	err  error
}

func (r fixedRecognizer) Recognize(context.Context, string) (string, error) { return r.text, r.err }

type stubRemote struct {
	calls atomic.Int32
	err   error
	last  RemoteSynthesisRequest
	mu    sync.Mutex
}

func (s *stubRemote) Synthesize(ctx context.Context, req RemoteSynthesisRequest) (*AudioResource, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return NewAudioResource([]byte("ID3remote-audio"), audio.FormatMP3, nil), nil
}

type stubLocal struct {
	voices     []LocalVoice
	voicesErr  error
	voiceCalls atomic.Int32
	renderErr  error

	mu         sync.Mutex
	utterances []Utterance
	released   atomic.Int32
}

func (s *stubLocal) Voices(context.Context) ([]LocalVoice, error) {
	s.voiceCalls.Add(1)
	return s.voices, s.voicesErr
}

func (s *stubLocal) Render(_ context.Context, u Utterance) (*AudioResource, error) {
	s.mu.Lock()
	s.utterances = append(s.utterances, u)
	s.mu.Unlock()
	if s.renderErr != nil {
		return nil, s.renderErr
	}
	wav, _ := audio.EncodeWAVPCM16LE(make([]byte, 320), 16000)
	return NewAudioResource(wav, audio.FormatWAV, func() { s.released.Add(1) }), nil
}

func (s *stubLocal) lastUtterance(t *testing.T) Utterance {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.utterances) == 0 {
		t.Fatalf("local engine was not asked to render")
	}
	return s.utterances[len(s.utterances)-1]
}

type playCall struct {
	res    *AudioResource
	speed  float64
	finish chan error
}

// manualOutput blocks every Play until the test finishes it or ctx ends.
type manualOutput struct {
	plays chan *playCall
}

func newManualOutput() *manualOutput {
	return &manualOutput{plays: make(chan *playCall, 8)}
}

func (o *manualOutput) Play(ctx context.Context, res *AudioResource, speed float64) error {
	call := &playCall{res: res, speed: speed, finish: make(chan error, 1)}
	o.plays <- call
	select {
	case err := <-call.finish:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *manualOutput) next(t *testing.T) *playCall {
	t.Helper()
	select {
	case call := <-o.plays:
		return call
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for playback to start")
		return nil
	}
}

func (o *manualOutput) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case call := <-o.plays:
		t.Fatalf("unexpected playback of %s", call.res.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

type instantOutput struct{ err error }

func (o instantOutput) Play(context.Context, *AudioResource, float64) error { return o.err }

type stubGenerator struct {
	reply   string
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (g *stubGenerator) Generate(ctx context.Context, _ string) (string, error) {
	g.calls.Add(1)
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply, g.err
}

var errBoom = errors.New("boom")

func newTestResource(onRelease func()) *AudioResource {
	return NewAudioResource([]byte("ID3payload"), audio.FormatMP3, onRelease)
}

var quietLogger = logging.Discard
