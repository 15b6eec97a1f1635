package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/voicedesk/internal/brain"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/httpapi"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/settings"
	"github.com/ent0n29/voicedesk/internal/voice"
)

type VoiceInfo struct {
	Provider       string
	Detail         string
	LocalEngine    string
	DefaultVoiceID string
	AudioOutput    string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Synthesis *voice.SynthesisOrchestrator
	Generator brain.Generator
	Settings  settings.Store
	Metrics   *observability.Metrics
	Voice     VoiceInfo

	// Cleanup should be called on shutdown to release external resources (DB, local workers, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	defaults, err := settings.VoiceSettings{
		Engine:  settings.Engine(cfg.DefaultEngine),
		VoiceID: cfg.DefaultVoiceID,
		Speed:   cfg.DefaultSpeed,
	}.Normalize(settings.Defaults())
	if err != nil {
		return nil, fmt.Errorf("default voice settings: %w", err)
	}
	store, err := settings.NewStore(ctx, cfg.DatabaseURL, defaults)
	if err != nil {
		return nil, fmt.Errorf("settings store init failed: %w", err)
	}

	generator, err := brain.NewGenerator(brain.Config{
		Mode:          cfg.BrainMode,
		HTTPURL:       cfg.BrainHTTPURL,
		HTTPTimeout:   cfg.BrainTimeout,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("brain init failed: %w", err)
	}

	setup, err := resolveVoice(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	synthesis := voice.NewSynthesisOrchestrator(setup.remote, setup.local, logger, metrics)

	output, err := resolveOutput(cfg)
	if err != nil {
		_ = store.Close()
		if setup.cleanup != nil {
			_ = setup.cleanup()
		}
		return nil, err
	}

	// Ensure API handlers know which backend is active (e.g. voices list).
	cfg.VoiceProvider = setup.resolvedProvider

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	api := httpapi.New(cfg, sessions, httpapi.Deps{
		Synthesis: synthesis,
		Generator: generator,
		Settings:  store,
		Output:    output,
		Logger:    logger,
		Metrics:   metrics,
	})

	cleanup := func() error {
		var errs []error
		if setup.cleanup != nil {
			if err := setup.cleanup(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Synthesis: synthesis,
		Generator: generator,
		Settings:  store,
		Metrics:   metrics,
		Voice: VoiceInfo{
			Provider:       setup.resolvedProvider,
			Detail:         setup.detail,
			LocalEngine:    setup.localEngine,
			DefaultVoiceID: defaults.VoiceID,
			AudioOutput:    cfg.AudioOutput,
		},
		Cleanup: cleanup,
	}, nil
}
