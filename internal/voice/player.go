package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
)

// PlaybackHandle is one live playback of an AudioResource.
type PlaybackHandle struct {
	id        string
	resource  *AudioResource
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// written once before done is closed
	err     error
	stopped bool
	stopMu  sync.Mutex
}

func (h *PlaybackHandle) ID() string               { return h.id }
func (h *PlaybackHandle) Resource() *AudioResource { return h.resource }
func (h *PlaybackHandle) Done() <-chan struct{}    { return h.done }

// Err returns the playback result once Done is closed: nil on natural end,
// ErrPlaybackStopped on stop or supersession, ErrPlaybackFailed otherwise.
func (h *PlaybackHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until playback ends or ctx is done.
func (h *PlaybackHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *PlaybackHandle) markStopped() {
	h.stopMu.Lock()
	h.stopped = true
	h.stopMu.Unlock()
}

func (h *PlaybackHandle) wasStopped() bool {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	return h.stopped
}

type PlayerOptions struct {
	// RequireInteraction blocks playback until AllowPlayback is called,
	// matching clients that refuse audio before a user gesture.
	RequireInteraction bool
	Logger             *slog.Logger
	Metrics            *observability.Metrics
}

// Player owns the single live playback. Play stops the live handle before
// starting a new one, and every resource it is given is released exactly once.
type Player struct {
	output             Output
	requireInteraction bool
	logger             *slog.Logger
	metrics            *observability.Metrics

	playMu sync.Mutex

	mu         sync.Mutex
	live       *PlaybackHandle
	unlocked   bool
	onSpeaking func(bool)
}

func NewPlayer(output Output, opts PlayerOptions) *Player {
	return &Player{
		output:             output,
		requireInteraction: opts.RequireInteraction,
		logger:             logging.Component(opts.Logger, "player"),
		metrics:            opts.Metrics,
	}
}

// OnSpeaking registers the speaking-flag listener. It is invoked without any
// Player lock held and must not call back into the Player.
func (p *Player) OnSpeaking(fn func(bool)) {
	p.mu.Lock()
	p.onSpeaking = fn
	p.mu.Unlock()
}

// AllowPlayback records the user interaction that unlocks playback.
func (p *Player) AllowPlayback() {
	p.mu.Lock()
	p.unlocked = true
	p.mu.Unlock()
}

func (p *Player) PlaybackAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.requireInteraction || p.unlocked
}

// Speaking reports whether a playback is live.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live != nil
}

// Play stops any live playback, then starts res at speed. res is owned by the
// Player from this call on, even when Play fails. A caller whose ctx is
// already done gets its error back and leaves the live playback alone.
func (p *Player) Play(ctx context.Context, res *AudioResource, speed float64) (*PlaybackHandle, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil resource", ErrPlaybackFailed)
	}
	p.playMu.Lock()
	defer p.playMu.Unlock()

	if err := ctx.Err(); err != nil {
		p.release(res, "canceled")
		return nil, err
	}
	p.Stop()

	p.mu.Lock()
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		p.release(res, "canceled")
		return nil, err
	}
	if p.requireInteraction && !p.unlocked {
		p.mu.Unlock()
		p.release(res, "locked")
		p.metrics.ObserveTurnIndicator(observability.IndicatorPlaybackLocked)
		return nil, ErrPlaybackLocked
	}
	if p.output == nil {
		p.mu.Unlock()
		p.release(res, "failed")
		return nil, fmt.Errorf("%w: no audio output", ErrPlaybackFailed)
	}
	pctx, cancel := context.WithCancel(ctx)
	h := &PlaybackHandle{
		id:        uuid.NewString(),
		resource:  res,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.live = h
	notify := p.onSpeaking
	p.mu.Unlock()

	if notify != nil {
		notify(true)
	}
	go p.run(pctx, h, speed)
	return h, nil
}

func (p *Player) run(ctx context.Context, h *PlaybackHandle, speed float64) {
	err := p.output.Play(ctx, h.resource, speed)

	reason := "ended"
	switch {
	case h.wasStopped() || (ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err()))):
		h.err = ErrPlaybackStopped
		reason = "stopped"
	case err != nil:
		h.err = fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
		reason = "failed"
		p.logger.Warn("audio playback failed", "handle", h.id, "error", err)
	}
	p.release(h.resource, reason)
	h.cancel()

	p.mu.Lock()
	if p.live == h {
		p.live = nil
	}
	notify := p.onSpeaking
	p.mu.Unlock()

	if notify != nil {
		notify(false)
	}
	close(h.done)
}

// Stop ends the live playback and waits until its resource is released. It
// is a no-op when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	h := p.live
	p.mu.Unlock()
	if h == nil {
		return
	}
	h.markStopped()
	h.cancel()
	<-h.done
}

func (p *Player) release(res *AudioResource, reason string) {
	if res.Release() {
		p.metrics.IncResourceRelease(reason)
	}
}
