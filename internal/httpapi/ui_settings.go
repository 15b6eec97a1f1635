package httpapi

import "net/http"

type uiSettingsResponse struct {
	CaptureLocale      string  `json:"capture_locale"`
	RequireInteraction bool    `json:"require_interaction"`
	AudioOutput        string  `json:"audio_output"`
	DefaultEngine      string  `json:"default_engine"`
	DefaultVoiceID     string  `json:"default_voice_id"`
	DefaultSpeed       float64 `json:"default_speed"`
	InactivityTTLMS    int64   `json:"inactivity_ttl_ms"`
}

// handleUISettings exposes the knobs the browser client needs before it
// opens a session.
func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	defaults := s.defaultSettings()
	output := s.audioOutputMode()
	respondJSON(w, http.StatusOK, uiSettingsResponse{
		CaptureLocale:      s.cfg.CaptureLocale,
		RequireInteraction: output == "client" && s.cfg.RequireGesture,
		AudioOutput:        output,
		DefaultEngine:      string(defaults.Engine),
		DefaultVoiceID:     defaults.VoiceID,
		DefaultSpeed:       defaults.Speed,
		InactivityTTLMS:    s.sessions.InactivityTimeout().Milliseconds(),
	})
}
