package app

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/voice"
)

func baseConfig(namespace string) config.Config {
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         namespace,
		VoiceProvider:            "auto",
		LocalTTSEngine:           "mock",
		DefaultEngine:            "remote",
		DefaultSpeed:             1.0,
		AudioOutput:              "client",
		BrainMode:                "auto",
	}
}

func TestBuildWithoutCredentials(t *testing.T) {
	res, err := Build(context.Background(), baseConfig("test_app_build"), logging.Discard())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Voice.Provider != "local" || res.Voice.LocalEngine != "mock" {
		t.Fatalf("voice = %+v, want local mock", res.Voice)
	}
	if res.Synthesis.HasRemote() {
		t.Fatalf("HasRemote() = true without ELEVENLABS_API_KEY")
	}
	if res.Config.VoiceProvider != "local" {
		t.Fatalf("resolved VoiceProvider = %q", res.Config.VoiceProvider)
	}
	vs, err := res.Settings.Get(context.Background(), "nobody")
	if err != nil || vs.VoiceID == "" {
		t.Fatalf("Settings.Get() = %+v, %v", vs, err)
	}
}

func TestBuildRejectsMissingBrainKey(t *testing.T) {
	cfg := baseConfig("test_app_build_brain")
	cfg.BrainMode = "openai"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("Build() error = nil, want missing OpenAI key error")
	}
}

func TestResolveVoice(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		engine     string
		key        string
		wantRemote bool
		wantLocal  bool
		want       string
		wantErr    bool
	}{
		{name: "auto with key", provider: "auto", engine: "mock", key: "k", wantRemote: true, wantLocal: true, want: "elevenlabs"},
		{name: "auto without key", provider: "auto", engine: "mock", wantLocal: true, want: "local"},
		{name: "remote only", provider: "elevenlabs", engine: "none", key: "k", wantRemote: true, want: "elevenlabs"},
		{name: "remote without key", provider: "elevenlabs", engine: "mock", wantErr: true},
		{name: "local", provider: "local", engine: "mock", key: "k", wantLocal: true, want: "local"},
		{name: "local without engine", provider: "local", engine: "none", wantErr: true},
		{name: "mock", provider: "mock", engine: "none", wantLocal: true, want: "mock"},
		{name: "unknown provider", provider: "carrier", engine: "mock", wantErr: true},
		{name: "unknown engine", provider: "auto", engine: "espeak", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Config{VoiceProvider: tc.provider, LocalTTSEngine: tc.engine, ElevenLabsAPIKey: tc.key}
			setup, err := resolveVoice(cfg, logging.Discard())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("resolveVoice() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveVoice() error = %v", err)
			}
			if (setup.remote != nil) != tc.wantRemote || (setup.local != nil) != tc.wantLocal {
				t.Fatalf("remote = %v local = %v", setup.remote != nil, setup.local != nil)
			}
			if setup.resolvedProvider != tc.want {
				t.Fatalf("resolvedProvider = %q, want %q", setup.resolvedProvider, tc.want)
			}
		})
	}
}

func TestResolveOutput(t *testing.T) {
	out, err := resolveOutput(config.Config{AudioOutput: "client"})
	if err != nil || out != nil {
		t.Fatalf("client output = %v, %v; want nil, nil", out, err)
	}
	out, err = resolveOutput(config.Config{AudioOutput: "none"})
	if _, ok := out.(voice.DiscardOutput); !ok || err != nil {
		t.Fatalf("none output = %T, %v", out, err)
	}
	out, err = resolveOutput(config.Config{AudioOutput: "command", PlayerCommand: "afplay {file}"})
	if _, ok := out.(*voice.CommandOutput); !ok || err != nil {
		t.Fatalf("command output = %T, %v", out, err)
	}
	if _, err := resolveOutput(config.Config{AudioOutput: "command", PlayerCommand: "afplay"}); err == nil {
		t.Fatalf("command without {file} should fail")
	}
	if _, err := resolveOutput(config.Config{AudioOutput: "speaker"}); err == nil {
		t.Fatalf("unknown output should fail")
	}
}
