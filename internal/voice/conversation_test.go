package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/settings"
)

type conversationRig struct {
	conv   *Conversation
	remote *stubRemote
	local  *stubLocal
	output *manualOutput
	gen    *stubGenerator
	rec    *eventRecorder
}

type rigOptions struct {
	recognizer         Recognizer
	remote             RemoteSynthesizer
	remoteErr          error
	requireInteraction bool
	greeting           string
}

func newRig(t *testing.T, gen *stubGenerator, opts rigOptions) *conversationRig {
	t.Helper()
	r := &conversationRig{
		remote: &stubRemote{err: opts.remoteErr},
		local:  &stubLocal{voices: []LocalVoice{{ID: "en", Locale: "en-US"}}},
		output: newManualOutput(),
		gen:    gen,
	}
	var remote RemoteSynthesizer = r.remote
	if opts.remote != nil {
		remote = opts.remote
	}
	conv, err := NewConversation(ConversationConfig{
		Capture:   NewCaptureController(opts.recognizer, "en-US", quietLogger(), nil),
		Synthesis: NewSynthesisOrchestrator(remote, r.local, quietLogger(), nil),
		Player:    NewPlayer(r.output, PlayerOptions{RequireInteraction: opts.requireInteraction, Logger: quietLogger()}),
		Generator: gen,
		Settings:  StaticSettings(settings.VoiceSettings{Engine: settings.EngineRemote, VoiceID: settings.DefaultVoiceID, Speed: 1}),
		Logger:    quietLogger(),
		Greeting:  opts.greeting,
	})
	if err != nil {
		t.Fatalf("NewConversation() error = %v", err)
	}
	r.conv = conv
	r.rec = recordEvents(conv)
	t.Cleanup(conv.Close)
	return r
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(c *Conversation) *eventRecorder {
	rec := &eventRecorder{}
	ch, _ := c.Subscribe()
	go func() {
		for evt := range ch {
			rec.mu.Lock()
			rec.events = append(rec.events, evt)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *eventRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, e := range r.events {
		if e.Type == EventStateChanged {
			out = append(out, e.State)
		}
	}
	return out
}

func (r *eventRecorder) notices() []NoticeCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NoticeCode
	for _, e := range r.events {
		if e.Type == EventNotice {
			out = append(out, e.Notice.Code)
		}
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statesEqual(got, want []State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func goSendText(c *Conversation, text string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), text) }()
	return done
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for turn to finish")
		return nil
	}
}

func TestTextTurnSpeaksReply(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "You have three tasks due."}, rigOptions{})

	done := goSendText(r.conv, "What tasks are due this week?")
	call := r.output.next(t)
	if got := r.conv.State(); got != StateSpeaking {
		t.Fatalf("State() = %q while playing, want speaking", got)
	}
	call.finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	if got := r.conv.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	turns := r.conv.Turns()
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant || turns[1].Text != "You have three tasks due." {
		t.Fatalf("Turns() = %+v", turns)
	}
	if r.remote.last.Text != "You have three tasks due." {
		t.Fatalf("remote text = %q", r.remote.last.Text)
	}
	if !call.res.Released() {
		t.Fatalf("resource not released after playback")
	}
	want := []State{StateProcessing, StateSpeaking, StateIdle}
	eventually(t, "state events", func() bool { return statesEqual(r.rec.states(), want) })
}

func TestBlankTextIgnored(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "unused"}, rigOptions{})
	if err := r.conv.SendText(context.Background(), "   "); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(r.conv.Turns()) != 0 || r.gen.calls.Load() != 0 {
		t.Fatalf("blank input produced a turn")
	}
}

func TestSpokenTurn(t *testing.T) {
	rec := newScriptedRecognizer(true)
	r := newRig(t, &stubGenerator{reply: "Done."}, rigOptions{recognizer: rec})

	done := make(chan error, 1)
	go func() { done <- r.conv.StartCapture(context.Background()) }()
	rec.next(t) <- recognizeResult{text: " close the sprint "}
	r.output.next(t).finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	turns := r.conv.Turns()
	if len(turns) != 2 || turns[0].Text != "close the sprint" {
		t.Fatalf("Turns() = %+v", turns)
	}
	want := []State{StateListening, StateProcessing, StateSpeaking, StateIdle}
	eventually(t, "state events", func() bool { return statesEqual(r.rec.states(), want) })
}

func TestPermissionDenied(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "unused"}, rigOptions{
		recognizer: fixedRecognizer{err: &RecognitionError{Code: RecognitionNotAllowed}},
	})
	if err := r.conv.StartCapture(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("StartCapture() error = %v, want ErrPermissionDenied", err)
	}
	if got := r.conv.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	if len(r.conv.Turns()) != 0 {
		t.Fatalf("denied capture produced turns")
	}
	eventually(t, "permission notice", func() bool {
		n := r.rec.notices()
		return len(n) == 1 && n[0] == NoticePermissionDenied
	})
}

func TestCaptureUnsupportedNotice(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "unused"}, rigOptions{})
	if r.conv.CaptureSupported() {
		t.Fatalf("CaptureSupported() = true without recognizer")
	}
	if err := r.conv.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	eventually(t, "unsupported notice", func() bool {
		n := r.rec.notices()
		return len(n) == 1 && n[0] == NoticeCaptureUnsupported
	})
	if s := r.rec.states(); len(s) != 0 {
		t.Fatalf("state events = %v, want none", s)
	}
}

func TestAbortedCaptureReturnsToIdleQuietly(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "unused"}, rigOptions{
		recognizer: fixedRecognizer{err: &RecognitionError{Code: RecognitionNoSpeech}},
	})
	if err := r.conv.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if r.conv.State() != StateIdle || len(r.rec.notices()) != 0 {
		t.Fatalf("state = %q notices = %v, want idle and none", r.conv.State(), r.rec.notices())
	}
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "Status is green."}, rigOptions{
		remoteErr: &RemoteStatusError{StatusCode: 500},
	})
	done := goSendText(r.conv, "status?")
	call := r.output.next(t)
	if call.speed != 1.0 {
		t.Fatalf("playback speed = %v, want 1.0 for local audio", call.speed)
	}
	call.finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if u := r.local.lastUtterance(t); u.Text != "Status is green." || u.Rate != 1 {
		t.Fatalf("utterance = %+v", u)
	}
	if n := r.rec.notices(); len(n) != 0 {
		t.Fatalf("notices = %v, want none on fallback", n)
	}
}

func TestNoEngineEmitsNotice(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "hi"}, rigOptions{remoteErr: &RemoteStatusError{StatusCode: 500}})
	r.local.voicesErr = errBoom
	if err := r.conv.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if r.conv.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", r.conv.State())
	}
	eventually(t, "tts notice", func() bool {
		n := r.rec.notices()
		return len(n) == 1 && n[0] == NoticeTTSUnavailable
	})
}

func TestPlaybackFailureEmitsNotice(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "hi"}, rigOptions{})
	done := goSendText(r.conv, "hello")
	r.output.next(t).finish <- errBoom
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	eventually(t, "playback notice", func() bool {
		n := r.rec.notices()
		return len(n) == 1 && n[0] == NoticePlaybackFailed
	})
}

func TestGeneratorFailureAppendsApology(t *testing.T) {
	r := newRig(t, &stubGenerator{err: errBoom}, rigOptions{})
	if err := r.conv.SendText(context.Background(), "plan my week"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	turns := r.conv.Turns()
	if len(turns) != 2 || turns[1].Text != ApologyText {
		t.Fatalf("Turns() = %+v, want apology", turns)
	}
	if r.conv.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", r.conv.State())
	}
	r.output.assertIdle(t)
}

func TestStopWhileSpeaking(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "A long answer."}, rigOptions{})
	done := goSendText(r.conv, "tell me everything")
	call := r.output.next(t)

	r.conv.Stop()
	if got := r.conv.State(); got != StateIdle {
		t.Fatalf("State() after Stop = %q, want idle", got)
	}
	if !call.res.Released() {
		t.Fatalf("resource not released by Stop")
	}
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if got := r.conv.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
	if n := r.rec.notices(); len(n) != 0 {
		t.Fatalf("notices = %v, want none after Stop", n)
	}
}

func TestStopWhileListening(t *testing.T) {
	rec := newScriptedRecognizer(true)
	r := newRig(t, &stubGenerator{reply: "unused"}, rigOptions{recognizer: rec})

	done := make(chan error, 1)
	go func() { done <- r.conv.StartCapture(context.Background()) }()
	late := rec.next(t)
	r.conv.Stop()
	late <- recognizeResult{text: "too late"}
	if err := waitErr(t, done); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if len(r.conv.Turns()) != 0 || r.conv.State() != StateIdle {
		t.Fatalf("turns = %v state = %q, want no turns and idle", r.conv.Turns(), r.conv.State())
	}
}

func TestStopWhileProcessingMutesReply(t *testing.T) {
	gen := &stubGenerator{reply: "Muted answer.", release: make(chan struct{})}
	r := newRig(t, gen, rigOptions{})
	done := goSendText(r.conv, "question")
	eventually(t, "generator call", func() bool { return gen.calls.Load() == 1 })

	r.conv.Stop()
	if got := r.conv.State(); got != StateProcessing {
		t.Fatalf("State() = %q, want processing until the reply lands", got)
	}
	close(gen.release)
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	turns := r.conv.Turns()
	if len(turns) != 2 || turns[1].Text != "Muted answer." {
		t.Fatalf("Turns() = %+v", turns)
	}
	if r.conv.State() != StateIdle {
		t.Fatalf("State() = %q, want idle", r.conv.State())
	}
	r.output.assertIdle(t)
}

func TestInputWhileProcessingIsRejected(t *testing.T) {
	gen := &stubGenerator{reply: "ok", release: make(chan struct{})}
	r := newRig(t, gen, rigOptions{})
	done := goSendText(r.conv, "first")
	eventually(t, "generator call", func() bool { return gen.calls.Load() == 1 })

	if err := r.conv.SendText(context.Background(), "second"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("SendText() during processing error = %v, want ErrTurnInFlight", err)
	}
	close(gen.release)
	r.output.next(t).finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if n := len(r.conv.Turns()); n != 2 {
		t.Fatalf("turns = %d, want 2", n)
	}
}

func TestNewInputPreemptsSpeech(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "answer"}, rigOptions{})
	first := goSendText(r.conv, "one")
	firstCall := r.output.next(t)

	second := goSendText(r.conv, "two")
	if err := waitErr(t, first); err != nil {
		t.Fatalf("first SendText() error = %v", err)
	}
	if !firstCall.res.Released() {
		t.Fatalf("first resource not released on preemption")
	}
	secondCall := r.output.next(t)
	if got := r.conv.State(); got != StateSpeaking {
		t.Fatalf("State() = %q, want speaking for the second turn", got)
	}
	secondCall.finish <- nil
	if err := waitErr(t, second); err != nil {
		t.Fatalf("second SendText() error = %v", err)
	}
	if n := len(r.conv.Turns()); n != 4 {
		t.Fatalf("turns = %d, want 4", n)
	}
}

func TestPlaybackLockedUntilInteraction(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "ready"}, rigOptions{requireInteraction: true})
	if err := r.conv.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if r.remote.calls.Load() != 0 {
		t.Fatalf("synthesis ran while playback was locked")
	}
	eventually(t, "locked notice", func() bool {
		n := r.rec.notices()
		return len(n) == 1 && n[0] == NoticePlaybackLocked
	})

	r.conv.AllowPlayback()
	done := make(chan error, 1)
	go func() { done <- r.conv.Replay(context.Background(), "") }()
	call := r.output.next(t)
	if r.remote.last.Text != "ready" {
		t.Fatalf("replayed text = %q, want ready", r.remote.last.Text)
	}
	call.finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
}

func TestReplayUnknownTurn(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "x"}, rigOptions{})
	if err := r.conv.Replay(context.Background(), ""); !errors.Is(err, ErrTurnNotFound) {
		t.Fatalf("Replay() error = %v, want ErrTurnNotFound", err)
	}
}

func TestClosedConversationRejectsInput(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "x"}, rigOptions{})
	r.conv.Close()
	if err := r.conv.SendText(context.Background(), "hello"); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("SendText() error = %v, want ErrConversationClosed", err)
	}
	if err := r.conv.StartCapture(context.Background()); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("StartCapture() error = %v, want ErrConversationClosed", err)
	}
}

// trackingRemote counts released resources. When gateFirst is set, the first
// Synthesize call blocks on it regardless of ctx.
type trackingRemote struct {
	calls     atomic.Int32
	released  atomic.Int32
	gateFirst chan struct{}
	entered   chan struct{}
}

func (s *trackingRemote) Synthesize(_ context.Context, _ RemoteSynthesisRequest) (*AudioResource, error) {
	if s.calls.Add(1) == 1 && s.gateFirst != nil {
		close(s.entered)
		<-s.gateFirst
	}
	return NewAudioResource([]byte("ID3remote-audio"), audio.FormatMP3, func() { s.released.Add(1) }), nil
}

func TestStartCaptureStopsSpeech(t *testing.T) {
	recognizer := newScriptedRecognizer(true)
	remote := &trackingRemote{}
	r := newRig(t, &stubGenerator{reply: "answer"}, rigOptions{recognizer: recognizer, remote: remote})

	sent := goSendText(r.conv, "one")
	speaking := r.output.next(t)

	captured := make(chan error, 1)
	go func() { captured <- r.conv.StartCapture(context.Background()) }()
	result := recognizer.next(t)

	if err := waitErr(t, sent); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if !speaking.res.Released() {
		t.Fatalf("playing resource not released when capture started")
	}
	if got := remote.released.Load(); got != 1 {
		t.Fatalf("resources released = %d, want 1", got)
	}
	if r.conv.player.Speaking() {
		t.Fatalf("player still speaking while listening")
	}
	if got := r.conv.State(); got != StateListening {
		t.Fatalf("State() = %q, want listening", got)
	}

	result <- recognizeResult{text: "next question"}
	r.output.next(t).finish <- nil
	if err := waitErr(t, captured); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if got := remote.released.Load(); got != 2 {
		t.Fatalf("resources released = %d, want 2", got)
	}
	eventually(t, "listening then idle", func() bool {
		s := r.rec.states()
		return len(s) > 0 && s[len(s)-1] == StateIdle && containsState(s, StateListening)
	})
}

func TestLateSynthesisDoesNotStopNewerTurn(t *testing.T) {
	remote := &trackingRemote{gateFirst: make(chan struct{}), entered: make(chan struct{})}
	r := newRig(t, &stubGenerator{reply: "answer"}, rigOptions{remote: remote})

	sent := goSendText(r.conv, "one")
	select {
	case <-remote.entered:
	case <-time.After(waitTimeout):
		t.Fatalf("first synthesis never started")
	}

	replayed := make(chan error, 1)
	go func() { replayed <- r.conv.Replay(context.Background(), "") }()
	replay := r.output.next(t)

	close(remote.gateFirst)
	if err := waitErr(t, sent); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	eventually(t, "stale resource release", func() bool { return remote.released.Load() == 1 })
	r.output.assertIdle(t)
	if replay.res.Released() || !r.conv.player.Speaking() {
		t.Fatalf("replay playback was stopped by a superseded turn")
	}
	select {
	case err := <-replayed:
		t.Fatalf("Replay() returned early: %v", err)
	default:
	}

	replay.finish <- nil
	if err := waitErr(t, replayed); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got := r.conv.State(); got != StateIdle {
		t.Fatalf("State() = %q, want idle", got)
	}
}

func TestGreetingIsFirstTurn(t *testing.T) {
	r := newRig(t, &stubGenerator{reply: "answer"}, rigOptions{greeting: "  Hello there.  "})
	turns := r.conv.Turns()
	if len(turns) != 1 || turns[0].Role != RoleAssistant || turns[0].Text != "Hello there." {
		t.Fatalf("Turns() = %+v, want one greeting turn", turns)
	}
	r.output.assertIdle(t)

	done := make(chan error, 1)
	go func() { done <- r.conv.Replay(context.Background(), turns[0].ID) }()
	r.output.next(t).finish <- nil
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Replay(greeting) error = %v", err)
	}
	if r.remote.last.Text != "Hello there." {
		t.Fatalf("replayed text = %q", r.remote.last.Text)
	}
}

func containsState(states []State, want State) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}
