package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/brain"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/settings"
	"github.com/ent0n29/voicedesk/internal/voice"
)

// Deps are the process-wide services shared by every connection.
type Deps struct {
	Synthesis *voice.SynthesisOrchestrator
	Generator voice.ResponseGenerator
	Settings  settings.Store
	// Output plays audio on the host. When nil, audio is sent to the
	// connected client.
	Output  voice.Output
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	deps     Deps
	logger   *slog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	mu   sync.Mutex
	live map[string]*liveConversation
}

type liveConversation struct {
	conv *voice.Conversation
	stop func()
}

func New(cfg config.Config, sessions *session.Manager, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		deps:     deps,
		logger:   logging.Component(deps.Logger, "httpapi"),
		metrics:  deps.Metrics,
		live:     make(map[string]*liveConversation),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	sessions.SetExpireHook(func(sess *session.Session) {
		s.logger.Info("session expired", "session_id", sess.ID)
		s.metrics.IncSessionEvent("expired")
		s.metrics.SetActiveSessions(s.sessions.ActiveCount())
		s.closeLive(sess.ID)
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/ui/settings", s.handleUISettings)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/voices", s.handleListVoices)
	r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)

	r.Get("/v1/settings/voice", s.handleGetVoiceSettings)
	r.Put("/v1/settings/voice", s.handlePutVoiceSettings)

	r.Handle("/*", newStaticHandler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Synthesis == nil || s.deps.Generator == nil || s.deps.Settings == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"brain":           brain.Name(s.deps.Generator),
		"voice_provider":  s.cfg.VoiceProvider,
		"remote_tts":      s.deps.Synthesis.HasRemote(),
		"audio_output":    s.audioOutputMode(),
		"settings_store":  settingsStoreMode(s.deps.Settings),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) audioOutputMode() string {
	if s.deps.Output == nil {
		return "client"
	}
	return s.cfg.AudioOutput
}

func settingsStoreMode(store settings.Store) string {
	switch store.(type) {
	case *settings.PostgresStore:
		return "postgres"
	case *settings.InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.IncSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.NewCreateResponse(sess, s.sessions.InactivityTimeout()))
}

type sessionResponse struct {
	*session.Session
	Connected bool         `json:"connected"`
	Turns     []voice.Turn `json:"turns"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	out := sessionResponse{Session: sess, Turns: []voice.Turn{}}
	s.mu.Lock()
	lc := s.live[id]
	s.mu.Unlock()
	if lc != nil {
		out.Connected = true
		out.State = string(lc.conv.State())
		out.Turns = lc.conv.Turns()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.closeLive(id)
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.IncSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

// register makes lc the live conversation of sessionID, stopping any
// previous connection for the same session.
func (s *Server) register(sessionID string, lc *liveConversation) {
	s.mu.Lock()
	prev := s.live[sessionID]
	s.live[sessionID] = lc
	s.mu.Unlock()
	if prev != nil {
		s.metrics.IncSessionEvent("ws_replaced")
		prev.stop()
	}
}

func (s *Server) unregister(sessionID string, lc *liveConversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[sessionID] == lc {
		delete(s.live, sessionID)
	}
}

func (s *Server) closeLive(sessionID string) {
	s.mu.Lock()
	lc := s.live[sessionID]
	s.mu.Unlock()
	if lc != nil {
		lc.stop()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
