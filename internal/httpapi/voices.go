package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/settings"
	"github.com/ent0n29/voicedesk/internal/voice"
)

// localCatalogWait bounds how long the voices listing waits for a local
// catalog that is still loading.
const localCatalogWait = 250 * time.Millisecond

type remoteVoiceSummary struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
	Gender  string `json:"gender,omitempty"`
}

type localVoiceSummary struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
	Locale  string `json:"locale,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type listVoicesResponse struct {
	DefaultEngine  settings.Engine      `json:"default_engine"`
	DefaultVoiceID string               `json:"default_voice_id"`
	RemoteEnabled  bool                 `json:"remote_enabled"`
	Remote         []remoteVoiceSummary `json:"remote"`
	Local          []localVoiceSummary  `json:"local"`
	LocalLoaded    bool                 `json:"local_loaded"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	defaults := s.defaultSettings()
	out := listVoicesResponse{
		DefaultEngine:  defaults.Engine,
		DefaultVoiceID: defaults.VoiceID,
		Remote:         []remoteVoiceSummary{},
		Local:          []localVoiceSummary{},
	}
	if s.deps.Synthesis != nil {
		out.RemoteEnabled = s.deps.Synthesis.HasRemote()
	}
	for _, v := range settings.RemoteVoices() {
		out.Remote = append(out.Remote, remoteVoiceSummary{VoiceID: v.ID, Name: v.Name, Gender: v.Gender})
	}

	if s.deps.Synthesis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), localCatalogWait)
		voices, err := s.deps.Synthesis.LocalVoices(ctx)
		cancel()
		if err == nil {
			out.LocalLoaded = true
			for _, v := range voices {
				out.Local = append(out.Local, localVoiceSummary{VoiceID: v.ID, Name: v.Name, Locale: v.Locale, Default: v.Default})
			}
		}
	}
	respondJSON(w, http.StatusOK, out)
}

type previewTTSRequest struct {
	Engine  string  `json:"engine"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Text    string  `json:"text"`
}

// handlePreviewTTS renders a sample with the given settings without touching
// any conversation.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesis == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice runtime not configured")
		return
	}

	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	vs, err := settings.VoiceSettings{
		Engine:  settings.Engine(req.Engine),
		VoiceID: req.VoiceID,
		Speed:   req.Speed,
	}.Normalize(s.defaultSettings())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = s.cfg.PreviewText
	}

	result, err := s.deps.Synthesis.Synthesize(r.Context(), text, vs)
	if err != nil {
		switch {
		case errors.Is(err, voice.ErrNothingToSay):
			respondError(w, http.StatusBadRequest, "nothing_to_say", err.Error())
		case errors.Is(err, voice.ErrUnsupportedPlatform):
			respondError(w, http.StatusServiceUnavailable, "tts_unavailable", err.Error())
		default:
			respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		}
		return
	}
	defer result.Resource.Release()

	w.Header().Set("Content-Type", result.Resource.Format().MIME())
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Voice-Engine", string(result.Engine))
	w.Header().Set("X-Voice-Fallback", strconv.FormatBool(result.FellBack))
	w.Header().Set("X-Playback-Rate", strconv.FormatFloat(result.Speed, 'f', 2, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Resource.Bytes())
}

func (s *Server) defaultSettings() settings.VoiceSettings {
	out, err := settings.VoiceSettings{
		Engine:  settings.Engine(s.cfg.DefaultEngine),
		VoiceID: s.cfg.DefaultVoiceID,
		Speed:   s.cfg.DefaultSpeed,
	}.Normalize(settings.Defaults())
	if err != nil {
		return settings.Defaults()
	}
	return out
}
