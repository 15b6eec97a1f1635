package voice

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
)

// MockEngine is a local engine for development without a speech stack. It
// renders a short tone whose length follows the text and rate.
type MockEngine struct {
	ready chan struct{}
}

// NewMockEngine returns an engine whose catalog becomes available after
// catalogDelay, mimicking an asynchronous voice load.
func NewMockEngine(catalogDelay time.Duration) *MockEngine {
	e := &MockEngine{ready: make(chan struct{})}
	if catalogDelay <= 0 {
		close(e.ready)
		return e
	}
	time.AfterFunc(catalogDelay, func() { close(e.ready) })
	return e
}

func (e *MockEngine) Voices(ctx context.Context) ([]LocalVoice, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []LocalVoice{
		{ID: "mock-en-us", Name: "Mock Female", Locale: "en-US", Default: true},
		{ID: "mock-en-gb", Name: "Mock Male", Locale: "en-GB"},
	}, nil
}

func (e *MockEngine) Render(ctx context.Context, u Utterance) (*AudioResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(u.Text))
	// ~150 words per minute at rate 1.0, capped for development sanity.
	ms := int(float64(words*400) / rate)
	if ms < 200 {
		ms = 200
	}
	if ms > 8000 {
		ms = 8000
	}
	vol := u.Volume
	if vol <= 0 {
		vol = 1
	}
	pcm := audio.Tone(440, ms, 16000, 0.2*vol)
	return newWAVResource(pcm, 16000)
}

// DiscardOutput is a headless output that "plays" a resource by waiting for
// its duration, so the conversation moves through Speaking realistically.
type DiscardOutput struct {
	// MaxWait caps the simulated playback time; zero means no cap.
	MaxWait time.Duration
}

func (o DiscardOutput) Play(ctx context.Context, res *AudioResource, speed float64) error {
	d := estimateDuration(res, speed)
	if o.MaxWait > 0 && d > o.MaxWait {
		d = o.MaxWait
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func estimateDuration(res *AudioResource, speed float64) time.Duration {
	if speed <= 0 {
		speed = 1
	}
	data := res.Bytes()
	var ms int
	if res.Format() == audio.FormatWAV {
		if pcm, rate, err := audio.DecodeWAVPCM16(data); err == nil {
			ms = audio.PCM16DurationMS(pcm, rate)
		}
	} else {
		// 128 kbit/s compressed audio.
		ms = len(data) * 8 / 128
	}
	return time.Duration(float64(ms)/speed) * time.Millisecond
}
