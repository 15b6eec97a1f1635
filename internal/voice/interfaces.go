package voice

import (
	"context"

	"github.com/ent0n29/voicedesk/internal/settings"
)

// Recognizer is a single-shot speech-to-text capability. Recognize blocks
// until one final transcript is available or the capture fails; failures
// carry a *RecognitionError. Cancelling ctx aborts the capture.
type Recognizer interface {
	Recognize(ctx context.Context, locale string) (string, error)
}

// availabilityReporter is implemented by recognizers whose support is only
// known at runtime (e.g. a connected client device).
type availabilityReporter interface {
	Available() bool
}

type RemoteSynthesisRequest struct {
	Text    string
	VoiceID string
}

// RemoteSynthesizer renders text through a remote provider.
type RemoteSynthesizer interface {
	Synthesize(ctx context.Context, req RemoteSynthesisRequest) (*AudioResource, error)
}

type LocalVoice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Locale  string `json:"locale"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is a local rendering request. Rate is a linear speed multiplier.
type Utterance struct {
	Text   string
	Voice  LocalVoice
	Rate   float64
	Pitch  float64
	Volume float64
}

// LocalEngine renders speech on the host. Voices blocks until the engine's
// catalog has loaded and fails if it never will.
type LocalEngine interface {
	Voices(ctx context.Context) ([]LocalVoice, error)
	Render(ctx context.Context, u Utterance) (*AudioResource, error)
}

// Output plays a resource to completion. Cancelling ctx must stop playback
// promptly and make Play return.
type Output interface {
	Play(ctx context.Context, res *AudioResource, speed float64) error
}

// ResponseGenerator produces the assistant's reply to a user utterance.
type ResponseGenerator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// SettingsSource reads the current voice settings. It is called at the start
// of every synthesis so changes apply from the next turn.
type SettingsSource func(ctx context.Context) (settings.VoiceSettings, error)

// StaticSettings returns a SettingsSource that always yields s.
func StaticSettings(s settings.VoiceSettings) SettingsSource {
	return func(context.Context) (settings.VoiceSettings, error) { return s, nil }
}
