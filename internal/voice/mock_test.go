package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
)

func TestMockEngineCatalogArrivesLate(t *testing.T) {
	e := NewMockEngine(30 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := e.Voices(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Voices() early error = %v, want deadline", err)
	}
	voices, err := e.Voices(context.Background())
	if err != nil || len(voices) == 0 {
		t.Fatalf("Voices() = (%v, %v)", voices, err)
	}
}

func TestMockEngineRenderLengthFollowsRate(t *testing.T) {
	e := NewMockEngine(0)
	text := "one two three four five six"
	slow, err := e.Render(context.Background(), Utterance{Text: text, Rate: 1})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	fast, err := e.Render(context.Background(), Utterance{Text: text, Rate: 2})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if slow.Format() != audio.FormatWAV {
		t.Fatalf("Format() = %q, want wav", slow.Format())
	}
	if d1, d2 := estimateDuration(slow, 1), estimateDuration(fast, 1); d2 >= d1 {
		t.Fatalf("rate 2 duration %v not shorter than rate 1 duration %v", d2, d1)
	}
}

func TestDiscardOutputHonoursStop(t *testing.T) {
	res, _ := NewMockEngine(0).Render(context.Background(), Utterance{Text: "a long sentence for the tone", Rate: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- DiscardOutput{}.Play(ctx, res, 1) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Play() error = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("Play() ignored cancellation")
	}

	if err := (DiscardOutput{MaxWait: time.Millisecond}).Play(context.Background(), res, 1); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
}

func TestCommandOutput(t *testing.T) {
	if _, err := NewCommandOutput("afplay"); err == nil {
		t.Fatalf("NewCommandOutput() without {file} error = nil")
	}
	ok, err := NewCommandOutput("true {file} {speed}")
	if err != nil {
		t.Fatalf("NewCommandOutput() error = %v", err)
	}
	if err := ok.Play(context.Background(), newTestResource(nil), 1.2); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	bad, _ := NewCommandOutput("false {file}")
	if err := bad.Play(context.Background(), newTestResource(nil), 1); err == nil {
		t.Fatalf("Play() with failing player error = nil")
	}
}
