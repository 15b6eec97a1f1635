package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/settings"
)

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable utterance of the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ApologyText replaces the assistant reply when the response generator fails.
const ApologyText = "I'm sorry, I encountered an error processing your request. Please try again."

type ConversationConfig struct {
	ID        string
	Capture   *CaptureController
	Synthesis *SynthesisOrchestrator
	Player    *Player
	Generator ResponseGenerator
	Settings  SettingsSource
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	// Greeting, when set, is the first assistant turn. It is not spoken.
	Greeting string
}

// Conversation is the per-session state machine:
// idle -> listening -> processing -> speaking -> idle, with typed input going
// straight from idle to processing. All transitions happen under mu and are
// tagged with a turn token; work finishing under an older token is discarded.
type Conversation struct {
	id       string
	capture  *CaptureController
	synth    *SynthesisOrchestrator
	player   *Player
	gen      ResponseGenerator
	settings SettingsSource
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   *eventHub

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	turns      []Turn
	token      uint64
	turnCancel context.CancelFunc
	muted      bool
	closed     bool
	inputAt    time.Time
}

func NewConversation(cfg ConversationConfig) (*Conversation, error) {
	if cfg.Generator == nil {
		return nil, errors.New("conversation requires a response generator")
	}
	if cfg.Synthesis == nil || cfg.Player == nil {
		return nil, errors.New("conversation requires synthesis and a player")
	}
	if cfg.Capture == nil {
		cfg.Capture = NewCaptureController(nil, "", cfg.Logger, cfg.Metrics)
	}
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(settings.Defaults())
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		id:       cfg.ID,
		capture:  cfg.Capture,
		synth:    cfg.Synthesis,
		player:   cfg.Player,
		gen:      cfg.Generator,
		settings: cfg.Settings,
		logger:   logging.Component(cfg.Logger, "conversation").With("conversation_id", cfg.ID),
		metrics:  cfg.Metrics,
		events:   newEventHub(),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
	c.events.drops = func() { c.metrics.IncSessionEvent("event_dropped") }
	if greeting := strings.TrimSpace(cfg.Greeting); greeting != "" {
		c.turns = append(c.turns, Turn{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Text:      greeting,
			CreatedAt: time.Now().UTC(),
		})
	}
	c.player.OnSpeaking(func(speaking bool) {
		c.events.publish(Event{Type: EventSpeakingChanged, Speaking: speaking})
	})
	return c, nil
}

func (c *Conversation) ID() string { return c.id }

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns a copy of the transcript.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// CaptureSupported reports whether StartCapture can listen at all.
func (c *Conversation) CaptureSupported() bool { return c.capture.Supported() }

// AllowPlayback records the user interaction that unlocks audio output.
func (c *Conversation) AllowPlayback() { c.player.AllowPlayback() }

// SendText runs a typed turn. Blank text is ignored. It returns once the turn
// is back in idle; speech in progress is preempted.
func (c *Conversation) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	tok, turnCtx, err := c.beginTurnLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.appendTurnLocked(RoleUser, text)
	c.setStateLocked(StateProcessing)
	c.mu.Unlock()

	return c.respond(ctx, turnCtx, tok, text)
}

// StartCapture listens for one utterance and runs it as a turn. When capture
// is unsupported a notice is emitted and nil returned. A denied microphone
// returns ErrPermissionDenied after the conversation is back in idle.
func (c *Conversation) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	if !c.capture.Supported() {
		c.noticeLocked(NoticeCaptureUnsupported)
		c.mu.Unlock()
		return nil
	}
	tok, turnCtx, err := c.beginTurnLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	text, err := c.capture.Capture(turnCtx)

	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		defer c.mu.Unlock()
		c.endTurnLocked()
		switch {
		case errors.Is(err, ErrPermissionDenied):
			c.noticeLocked(NoticePermissionDenied)
			c.metrics.IncTurnOutcome("capture_denied")
			return ErrPermissionDenied
		case errors.Is(err, ErrCaptureAborted):
			c.metrics.IncTurnOutcome("capture_aborted")
			return nil
		case errors.Is(err, ErrCaptureUnsupported):
			c.noticeLocked(NoticeCaptureUnsupported)
			return nil
		default:
			c.noticeLocked(NoticeCaptureFailed)
			c.metrics.IncTurnOutcome("capture_failed")
			return nil
		}
	}
	c.appendTurnLocked(RoleUser, text)
	c.setStateLocked(StateProcessing)
	c.mu.Unlock()

	return c.respond(ctx, turnCtx, tok, text)
}

// Replay speaks an existing assistant turn again, or the latest one when
// turnID is empty. It preempts speech in progress like a new turn.
func (c *Conversation) Replay(ctx context.Context, turnID string) error {
	c.mu.Lock()
	text, ok := c.assistantTextLocked(strings.TrimSpace(turnID))
	if !ok {
		c.mu.Unlock()
		return ErrTurnNotFound
	}
	tok, turnCtx, err := c.beginTurnLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(StateSpeaking)
	c.mu.Unlock()

	c.speak(turnCtx, tok, text)
	return nil
}

// Stop cancels capture or playback. During processing the in-flight reply is
// not cancelled: it lands as an assistant turn without being spoken.
func (c *Conversation) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateSpeaking, StateListening:
		c.interruptLocked()
		c.metrics.IncTurnOutcome("stopped")
		c.setStateLocked(StateIdle)
	case StateProcessing:
		c.muted = true
	default:
		c.player.Stop()
	}
}

// Close stops all activity and releases subscribers. Further requests fail
// with ErrConversationClosed.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.interruptLocked()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.cancel()
	c.events.close()
}

// beginTurnLocked preempts listening or speaking and opens a new turn token.
func (c *Conversation) beginTurnLocked() (uint64, context.Context, error) {
	if c.closed {
		return 0, nil, ErrConversationClosed
	}
	switch c.state {
	case StateProcessing:
		return 0, nil, ErrTurnInFlight
	case StateSpeaking:
		c.metrics.ObserveTurnIndicator(observability.IndicatorBargeIn)
		c.interruptLocked()
	case StateListening:
		c.interruptLocked()
	}
	c.token++
	turnCtx, cancel := context.WithCancel(c.ctx)
	c.turnCancel = cancel
	c.muted = false
	c.inputAt = time.Now()
	return c.token, turnCtx, nil
}

// interruptLocked invalidates the current turn and synchronously stops its
// capture and playback. The player's speaking callback only publishes events,
// so stopping under mu cannot deadlock.
func (c *Conversation) interruptLocked() {
	c.token++
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.capture.Cancel()
	c.player.Stop()
}

// endTurnLocked releases the turn context and returns to idle.
func (c *Conversation) endTurnLocked() {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.setStateLocked(StateIdle)
}

// respond asks the generator for a reply under the caller's ctx; Stop does not
// cancel it.
func (c *Conversation) respond(ctx context.Context, turnCtx context.Context, tok uint64, text string) error {
	c.mu.Lock()
	inputAt := c.inputAt
	c.mu.Unlock()

	reply, err := c.gen.Generate(ctx, text)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	c.metrics.ObserveTurnStage(observability.StageInputToResponse, time.Since(inputAt))

	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.logger.Warn("response generation failed", "error", fmt.Errorf("%w: %v", ErrResponseGenerationFailed, err))
		c.appendTurnLocked(RoleAssistant, ApologyText)
		c.metrics.IncTurnOutcome("apology")
		c.endTurnLocked()
		c.mu.Unlock()
		return nil
	}
	reply = strings.TrimSpace(reply)
	c.appendTurnLocked(RoleAssistant, reply)
	if c.muted {
		c.metrics.IncTurnOutcome("muted")
		c.metrics.ObserveTurnIndicator(observability.IndicatorMutedResponse)
		c.endTurnLocked()
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateSpeaking)
	c.mu.Unlock()

	c.speak(turnCtx, tok, reply)
	return nil
}

// speak synthesizes and plays text for turn tok, then returns to idle unless
// the turn was superseded meanwhile.
func (c *Conversation) speak(turnCtx context.Context, tok uint64, text string) {
	if !c.player.PlaybackAllowed() {
		c.finishSpeaking(tok, ErrPlaybackLocked)
		return
	}
	vs, err := c.settings(turnCtx)
	if err != nil {
		c.logger.Warn("voice settings unavailable, using defaults", "error", err)
		vs = settings.Defaults()
	}
	result, err := c.synth.Synthesize(turnCtx, text, vs)
	if err != nil {
		c.finishSpeaking(tok, err)
		return
	}
	// Play under mu so a superseded turn can never stop the newer turn's audio.
	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		c.player.release(result.Resource, "canceled")
		return
	}
	handle, err := c.player.Play(turnCtx, result.Resource, result.Speed)
	if err == nil {
		c.metrics.ObserveFirstAudioLatency(time.Since(c.inputAt))
	}
	c.mu.Unlock()
	if err != nil {
		c.finishSpeaking(tok, err)
		return
	}

	<-handle.Done()
	c.finishSpeaking(tok, handle.Err())
}

func (c *Conversation) finishSpeaking(tok uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != c.token {
		return
	}
	outcome := "spoken"
	switch {
	case err == nil:
	case errors.Is(err, ErrNothingToSay):
		outcome = "silent"
	case errors.Is(err, ErrPlaybackStopped), errors.Is(err, context.Canceled):
		outcome = "stopped"
	case errors.Is(err, ErrUnsupportedPlatform):
		outcome = "tts_unavailable"
		c.noticeLocked(NoticeTTSUnavailable)
		c.logger.Warn("no speech engine available", "error", err)
	case errors.Is(err, ErrPlaybackLocked):
		outcome = "playback_locked"
		c.noticeLocked(NoticePlaybackLocked)
	default:
		outcome = "playback_failed"
		c.noticeLocked(NoticePlaybackFailed)
		c.logger.Warn("speaking failed", "error", err)
	}
	c.metrics.IncTurnOutcome(outcome)
	c.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(c.inputAt))
	c.endTurnLocked()
}

func (c *Conversation) assistantTextLocked(turnID string) (string, bool) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		t := c.turns[i]
		if t.Role != RoleAssistant {
			continue
		}
		if turnID == "" || t.ID == turnID {
			return t.Text, true
		}
	}
	return "", false
}

func (c *Conversation) appendTurnLocked(role Role, text string) {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	c.turns = append(c.turns, t)
	c.logger.Debug("turn appended", "turn_id", t.ID, "role", role, "text", logging.RedactText(text, 80))
	c.events.publish(Event{Type: EventTurnAppended, Turn: &t, State: c.state})
}

func (c *Conversation) setStateLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.metrics.IncStateTransition(string(prev), string(next))
	c.events.publish(Event{Type: EventStateChanged, State: next, Previous: prev})
}

func (c *Conversation) noticeLocked(code NoticeCode) {
	n := newNotice(code)
	c.events.publish(Event{Type: EventNotice, Notice: &n, State: c.state})
}
