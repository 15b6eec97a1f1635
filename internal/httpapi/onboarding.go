package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/brain"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	VoiceProvider string            `json:"voice_provider"`
	BrainProvider string            `json:"brain_provider"`
	SettingsStore string            `json:"settings_store"`
	AudioOutput   string            `json:"audio_output"`
	Checks        []onboardingCheck `json:"checks"`
}

const onboardingProbeTimeout = 250 * time.Millisecond

// handleOnboardingStatus reports which parts of the voice chain are usable and
// how to fix the ones that are not.
func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	voiceProvider := strings.ToLower(strings.TrimSpace(s.cfg.VoiceProvider))
	if voiceProvider == "" {
		voiceProvider = "auto"
	}

	checks := make([]onboardingCheck, 0, 8)
	checks = append(checks, s.remoteVoiceCheck(voiceProvider))
	checks = append(checks, s.localVoiceCheck(r.Context()))
	checks = append(checks, s.audioOutputCheck())
	brainProvider, brainCheck := s.brainCheck()
	checks = append(checks, brainCheck)

	storeMode := "none"
	if s.deps.Settings != nil {
		storeMode = settingsStoreMode(s.deps.Settings)
	}
	switch storeMode {
	case "postgres":
		checks = append(checks, onboardingCheck{
			ID:     "settings_store",
			Status: "ok",
			Label:  "Voice settings persistence",
			Detail: "postgres",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "settings_store",
			Status: "warn",
			Label:  "Voice settings persistence",
			Detail: storeMode,
			Fix:    "Set DATABASE_URL to keep voice settings across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		VoiceProvider: voiceProvider,
		BrainProvider: brainProvider,
		SettingsStore: storeMode,
		AudioOutput:   s.audioOutputMode(),
		Checks:        checks,
	})
}

func (s *Server) remoteVoiceCheck(provider string) onboardingCheck {
	check := onboardingCheck{ID: "remote_tts", Label: "ElevenLabs (remote speech)"}
	switch {
	case s.deps.Synthesis != nil && s.deps.Synthesis.HasRemote():
		check.Status = "ok"
		check.Detail = "enabled"
	case provider == "local" || provider == "mock":
		check.Status = "ok"
		check.Detail = "disabled by VOICE_PROVIDER=" + provider
	case strings.TrimSpace(s.cfg.ElevenLabsAPIKey) == "":
		check.Status = "warn"
		check.Detail = "ELEVENLABS_API_KEY is not set; every reply uses the local voice"
		check.Fix = "Set ELEVENLABS_API_KEY for premium voices."
	default:
		check.Status = "warn"
		check.Detail = "API key present but the remote provider is disabled"
	}
	return check
}

func (s *Server) localVoiceCheck(ctx context.Context) onboardingCheck {
	check := onboardingCheck{ID: "local_tts", Label: "Local speech engine", Status: "ok"}
	if s.deps.Synthesis == nil {
		check.Status = "error"
		check.Detail = "voice runtime not configured"
		return check
	}
	ctx, cancel := context.WithTimeout(ctx, onboardingProbeTimeout)
	defer cancel()
	voices, err := s.deps.Synthesis.LocalVoices(ctx)
	switch {
	case err == nil:
		check.Detail = fmt.Sprintf("%s, %d voices", s.cfg.LocalTTSEngine, len(voices))
	case ctx.Err() != nil:
		check.Status = "warn"
		check.Detail = "voice catalog still loading"
	default:
		check.Status = "error"
		check.Detail = err.Error()
		check.Fix = "Install kokoro in .venv or set LOCAL_KOKORO_PYTHON and LOCAL_KOKORO_WORKER_SCRIPT."
	}
	return check
}

func (s *Server) audioOutputCheck() onboardingCheck {
	check := onboardingCheck{ID: "audio_output", Label: "Audio output", Status: "ok"}
	switch mode := s.audioOutputMode(); mode {
	case "client":
		check.Detail = "played by the connected client"
	case "command":
		player := strings.Fields(s.cfg.PlayerCommand)
		if len(player) == 0 {
			check.Status = "error"
			check.Detail = "AUDIO_PLAYER_COMMAND is empty"
			return check
		}
		if _, err := exec.LookPath(player[0]); err != nil {
			check.Status = "error"
			check.Detail = player[0] + " not found"
			check.Fix = "Install ffmpeg or point AUDIO_PLAYER_COMMAND at another player."
			return check
		}
		check.Detail = player[0] + " found"
	default:
		check.Status = "warn"
		check.Detail = "audio is discarded (AUDIO_OUTPUT=" + mode + ")"
	}
	return check
}

func (s *Server) brainCheck() (string, onboardingCheck) {
	name := "none"
	if s.deps.Generator != nil {
		name = brain.Name(s.deps.Generator)
	}
	check := onboardingCheck{ID: "brain", Label: "Assistant replies", Status: "ok", Detail: name}
	switch name {
	case "mock":
		check.Status = "warn"
		check.Detail = "mock replies echo the user"
		check.Fix = "Set OPENAI_API_KEY or BRAIN_HTTP_URL."
	case "offline":
		check.Status = "warn"
		check.Detail = "offline replies cover a fixed set of project questions"
		check.Fix = "Set OPENAI_API_KEY or BRAIN_HTTP_URL for open-ended answers."
	case "http":
		if err := probeTCP(s.cfg.BrainHTTPURL); err != nil {
			check.Status = "warn"
			check.Detail = fmt.Sprintf("brain endpoint not reachable (%s)", s.cfg.BrainHTTPURL)
			check.Fix = "Start the brain service or fix BRAIN_HTTP_URL."
		}
	case "none":
		check.Status = "error"
	}
	return name, check
}

func probeTCP(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, onboardingProbeTimeout)
	if err != nil {
		return err
	}
	return c.Close()
}
