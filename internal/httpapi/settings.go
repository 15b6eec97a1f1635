package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/voicedesk/internal/settings"
)

type voiceSettingsRequest struct {
	UserID string `json:"user_id"`
	settings.VoiceSettings
}

type voiceSettingsResponse struct {
	UserID string `json:"user_id"`
	settings.VoiceSettings
}

func (s *Server) handleGetVoiceSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings store not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	vs, err := s.deps.Settings.Get(r.Context(), userID)
	if err != nil {
		s.logger.Error("voice settings read failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "settings_unavailable", "voice settings could not be loaded")
		return
	}
	respondJSON(w, http.StatusOK, voiceSettingsResponse{UserID: userID, VoiceSettings: vs})
}

func (s *Server) handlePutVoiceSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings store not configured")
		return
	}
	var req voiceSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "anonymous"
	}
	vs, err := s.deps.Settings.Put(r.Context(), userID, req.VoiceSettings)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidEngine) {
			respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
			return
		}
		s.logger.Error("voice settings write failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "settings_unavailable", "voice settings could not be saved")
		return
	}
	respondJSON(w, http.StatusOK, voiceSettingsResponse{UserID: userID, VoiceSettings: vs})
}
