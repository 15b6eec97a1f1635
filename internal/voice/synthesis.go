package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/reliability"
	"github.com/ent0n29/voicedesk/internal/settings"
)

// PlayableResult is a synthesized rendering ready for the Player. Speed is the
// playback multiplier still to apply: the settings speed for remote audio and
// 1.0 for local audio, which is rendered at the requested rate already.
type PlayableResult struct {
	Resource *AudioResource
	Speed    float64
	Engine   settings.Engine
	// FellBack is set when the remote provider failed and the local engine
	// rendered the text instead.
	FellBack bool
}

// SynthesisOrchestrator turns text into audio, preferring the remote provider
// and falling back to the local engine on any remote failure. It keeps no
// playback state.
type SynthesisOrchestrator struct {
	remote  RemoteSynthesizer
	local   LocalEngine
	logger  *slog.Logger
	metrics *observability.Metrics

	voiceMu  sync.Mutex
	voiceSet bool
	voice    LocalVoice
}

func NewSynthesisOrchestrator(remote RemoteSynthesizer, local LocalEngine, logger *slog.Logger, metrics *observability.Metrics) *SynthesisOrchestrator {
	return &SynthesisOrchestrator{
		remote:  remote,
		local:   local,
		logger:  logging.Component(logger, "synthesis"),
		metrics: metrics,
	}
}

// HasRemote reports whether a remote provider is configured.
func (o *SynthesisOrchestrator) HasRemote() bool { return o.remote != nil }

// LocalVoices returns the local catalog, waiting for it to load.
func (o *SynthesisOrchestrator) LocalVoices(ctx context.Context) ([]LocalVoice, error) {
	if o.local == nil {
		return nil, ErrUnsupportedPlatform
	}
	return o.local.Voices(ctx)
}

func (o *SynthesisOrchestrator) Synthesize(ctx context.Context, text string, vs settings.VoiceSettings) (PlayableResult, error) {
	spoken := CleanForSpeech(text)
	if spoken == "" {
		return PlayableResult{}, ErrNothingToSay
	}
	speed := settings.ClampSpeed(vs.Speed)

	fellBack := false
	if vs.Engine != settings.EngineLocal && o.remote != nil {
		start := time.Now()
		res, err := o.remote.Synthesize(ctx, RemoteSynthesisRequest{Text: spoken, VoiceID: vs.VoiceID})
		if err == nil {
			o.metrics.IncSynthesis(string(settings.EngineRemote), "ok")
			o.metrics.ObserveTurnStage(observability.StageSynthesis, time.Since(start))
			return PlayableResult{Resource: res, Speed: speed, Engine: settings.EngineRemote}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PlayableResult{}, ctxErr
		}
		reason := reliability.Classify(err)
		o.logger.Warn("remote synthesis failed, using local engine",
			"error", err,
			"reason", reason,
			"voice_id", vs.VoiceID,
			"chars", len(spoken),
		)
		o.metrics.IncSynthesis(string(settings.EngineRemote), "error")
		o.metrics.IncProviderError("elevenlabs", reason)
		o.metrics.IncSynthesisFallback(reason)
		fellBack = true
	}

	start := time.Now()
	res, err := o.renderLocal(ctx, spoken, speed)
	if err != nil {
		o.metrics.IncSynthesis(string(settings.EngineLocal), "error")
		return PlayableResult{}, err
	}
	o.metrics.IncSynthesis(string(settings.EngineLocal), "ok")
	o.metrics.ObserveTurnStage(observability.StageSynthesis, time.Since(start))
	return PlayableResult{Resource: res, Speed: 1.0, Engine: settings.EngineLocal, FellBack: fellBack}, nil
}

func (o *SynthesisOrchestrator) renderLocal(ctx context.Context, text string, rate float64) (*AudioResource, error) {
	if o.local == nil {
		return nil, ErrUnsupportedPlatform
	}
	voice, err := o.preferredVoice(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	res, err := o.local.Render(ctx, Utterance{
		Text:   text,
		Voice:  voice,
		Rate:   rate,
		Pitch:  1.0,
		Volume: 1.0,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Local rendering is part of playing the audio on the host.
		return nil, fmt.Errorf("%w: local render: %v", ErrPlaybackFailed, err)
	}
	return res, nil
}

// preferredVoice resolves the local voice once and caches it. Only the first
// caller waits for the catalog; a failed load is retried on the next call.
func (o *SynthesisOrchestrator) preferredVoice(ctx context.Context) (LocalVoice, error) {
	o.voiceMu.Lock()
	defer o.voiceMu.Unlock()
	if o.voiceSet {
		return o.voice, nil
	}
	voices, err := o.local.Voices(ctx)
	if err != nil {
		return LocalVoice{}, err
	}
	o.voice = pickLocalVoice(voices)
	o.voiceSet = true
	o.logger.Debug("local voice selected", "voice", o.voice.ID, "catalog", len(voices))
	return o.voice, nil
}

// pickLocalVoice prefers a Google or Female voice, then any en-US voice, then
// the engine default, then the first entry. An empty catalog yields the zero
// voice, which engines treat as their default.
func pickLocalVoice(voices []LocalVoice) LocalVoice {
	for _, v := range voices {
		if strings.Contains(v.Name, "Google") || strings.Contains(v.Name, "Female") {
			return v
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Locale, "en-US") {
			return v
		}
	}
	for _, v := range voices {
		if v.Default {
			return v
		}
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return LocalVoice{}
}
