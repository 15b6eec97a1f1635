package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/voice"
)

type voiceSetup struct {
	remote           voice.RemoteSynthesizer
	local            voice.LocalEngine
	resolvedProvider string
	localEngine      string
	detail           string
	cleanup          func() error
}

func resolveVoice(cfg config.Config, logger *slog.Logger) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	var setup voiceSetup
	if voiceMode == "mock" {
		setup.local = voice.NewMockEngine(0)
		setup.localEngine = "mock"
		setup.resolvedProvider = "mock"
		setup.detail = "mock"
		return setup, nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LocalTTSEngine)) {
	case "", "kokoro":
		engine := voice.NewKokoroEngine(voice.KokoroConfig{
			Python:       cfg.LocalKokoroPython,
			WorkerScript: cfg.LocalKokoroWorkerScript,
			Voice:        cfg.LocalKokoroVoice,
			LangCode:     cfg.LocalKokoroLangCode,
		}, logger)
		setup.local = engine
		setup.localEngine = "kokoro"
		setup.cleanup = engine.Close
	case "mock":
		setup.local = voice.NewMockEngine(0)
		setup.localEngine = "mock"
	case "none":
		setup.localEngine = "none"
	default:
		return voiceSetup{}, fmt.Errorf("invalid LOCAL_TTS_ENGINE: %q (expected kokoro|mock|none)", cfg.LocalTTSEngine)
	}

	hasKey := strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""
	switch voiceMode {
	case "elevenlabs", "auto":
		if hasKey {
			setup.remote = voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
				APIKey:          cfg.ElevenLabsAPIKey,
				BaseURL:         cfg.ElevenLabsBaseURL,
				ModelID:         cfg.ElevenLabsTTSModel,
				OutputFormat:    cfg.ElevenLabsTTSOutputFormat,
				Stability:       cfg.ElevenLabsStability,
				SimilarityBoost: cfg.ElevenLabsSimilarity,
				Timeout:         cfg.ElevenLabsTimeout,
			})
			setup.resolvedProvider = "elevenlabs"
			setup.detail = fmt.Sprintf("elevenlabs (local fallback: %s)", setup.localEngine)
			return setup, nil
		}
		if voiceMode == "elevenlabs" {
			if setup.cleanup != nil {
				_ = setup.cleanup()
			}
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		fallthrough
	case "local":
		if setup.local == nil {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=%s needs a local engine but LOCAL_TTS_ENGINE=none", voiceMode)
		}
		setup.resolvedProvider = "local"
		setup.detail = "local (" + setup.localEngine + ")"
		return setup, nil
	default:
		if setup.cleanup != nil {
			_ = setup.cleanup()
		}
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|local|mock)", cfg.VoiceProvider)
	}
}

// resolveOutput returns nil when audio is played by the connected client.
func resolveOutput(cfg config.Config) (voice.Output, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AudioOutput)) {
	case "", "client":
		return nil, nil
	case "command":
		out, err := voice.NewCommandOutput(cfg.PlayerCommand)
		if err != nil {
			return nil, fmt.Errorf("audio output init failed: %w", err)
		}
		return out, nil
	case "none":
		return voice.DiscardOutput{}, nil
	default:
		return nil, fmt.Errorf("invalid AUDIO_OUTPUT: %q (expected client|command|none)", cfg.AudioOutput)
	}
}
