package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/protocol"
	"github.com/ent0n29/voicedesk/internal/session"
	"github.com/ent0n29/voicedesk/internal/settings"
	"github.com/ent0n29/voicedesk/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Synthesis == nil || s.deps.Generator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice runtime not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.IncSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) error {
		select {
		case outbound <- msg:
			return nil
		case <-ctx.Done():
			return errBridgeClosed
		}
	}

	bridge := newClientBridge(send, s.metrics)
	conv, err := s.newConversation(sess, bridge)
	if err != nil {
		s.logger.Error("conversation setup failed", "session_id", sessionID, "error", err)
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "session_setup_failed",
			Source:    "gateway",
		})
		return
	}

	lc := &liveConversation{
		conv: conv,
		stop: func() {
			cancel()
			_ = conn.Close()
		},
	}
	s.register(sessionID, lc)
	defer s.unregister(sessionID, lc)

	var workers sync.WaitGroup
	events, unsubscribe := conv.Subscribe()
	workers.Add(1)
	go func() {
		defer workers.Done()
		s.forwardEvents(sessionID, events, send)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.IncSessionEvent("ws_write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	_ = send(protocol.SessionReady{
		Type:      protocol.TypeSessionReady,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		State:     string(conv.State()),
		Turns:     protocolTurns(conv.Turns()),
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	run := func(name string, fn func() error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(); err != nil {
				s.reportTurnError(ctx, sessionID, name, err, send)
			}
		}()
	}

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}
		_ = s.sessions.Touch(sessionID)

		switch m := parsed.(type) {
		case protocol.Hello:
			bridge.hello(m)
		case protocol.SendText:
			text := m.Text
			run("send_text", func() error { return conv.SendText(ctx, text) })
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionStartCapture:
				conv.AllowPlayback()
				run("start_capture", func() error { return conv.StartCapture(ctx) })
			case protocol.ActionStop:
				if st := conv.State(); st == voice.StateSpeaking || st == voice.StateListening {
					_ = s.sessions.Interrupt(sessionID)
				}
				conv.Stop()
			case protocol.ActionInteraction:
				conv.AllowPlayback()
			case protocol.ActionReplay:
				conv.AllowPlayback()
				turnID := m.TurnID
				run("replay", func() error { return conv.Replay(ctx, turnID) })
			}
		default:
			bridge.handle(parsed)
		}
	}

	cancel()
	bridge.close()
	conv.Close()
	unsubscribe()
	workers.Wait()
	<-writerDone
	s.metrics.IncSessionEvent("ws_disconnected")
}

func (s *Server) newConversation(sess *session.Session, bridge *clientBridge) (*voice.Conversation, error) {
	output := s.deps.Output
	requireGesture := false
	if output == nil {
		output = bridge
		requireGesture = s.cfg.RequireGesture
	}
	userID := sess.UserID
	store := s.deps.Settings
	return voice.NewConversation(voice.ConversationConfig{
		ID:        sess.ID,
		Capture:   voice.NewCaptureController(bridge, s.cfg.CaptureLocale, s.deps.Logger, s.metrics),
		Synthesis: s.deps.Synthesis,
		Player: voice.NewPlayer(output, voice.PlayerOptions{
			RequireInteraction: requireGesture,
			Logger:             s.deps.Logger,
			Metrics:            s.metrics,
		}),
		Generator: s.deps.Generator,
		Settings: func(ctx context.Context) (settings.VoiceSettings, error) {
			return store.Get(ctx, userID)
		},
		Logger:   s.deps.Logger,
		Metrics:  s.metrics,
		Greeting: s.cfg.Greeting,
	})
}

func protocolTurn(t voice.Turn) protocol.Turn {
	return protocol.Turn{
		ID:        t.ID,
		Role:      string(t.Role),
		Text:      t.Text,
		CreatedMs: t.CreatedAt.UnixMilli(),
	}
}

func protocolTurns(turns []voice.Turn) []protocol.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]protocol.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, protocolTurn(t))
	}
	return out
}

// forwardEvents mirrors conversation events to the client and the session
// record until the subscription closes.
func (s *Server) forwardEvents(sessionID string, events <-chan voice.Event, send func(any) error) {
	for evt := range events {
		var msg any
		switch evt.Type {
		case voice.EventStateChanged:
			_ = s.sessions.SetState(sessionID, string(evt.State))
			msg = protocol.StateChanged{
				Type:      protocol.TypeStateChanged,
				SessionID: sessionID,
				State:     string(evt.State),
				Previous:  string(evt.Previous),
				TSMs:      evt.At.UnixMilli(),
			}
		case voice.EventTurnAppended:
			if evt.Turn.Role == voice.RoleUser {
				_ = s.sessions.StartTurn(sessionID)
			}
			msg = protocol.TurnAppended{
				Type:      protocol.TypeTurnAppended,
				SessionID: sessionID,
				Turn:      protocolTurn(*evt.Turn),
			}
		case voice.EventNotice:
			msg = protocol.Notice{
				Type:      protocol.TypeNotice,
				SessionID: sessionID,
				Code:      string(evt.Notice.Code),
				Title:     evt.Notice.Title,
				Detail:    evt.Notice.Detail,
			}
		case voice.EventSpeakingChanged:
			msg = protocol.SpeakingChanged{
				Type:      protocol.TypeSpeakingChanged,
				SessionID: sessionID,
				Speaking:  evt.Speaking,
			}
		default:
			continue
		}
		if err := send(msg); err != nil {
			return
		}
	}
}

func (s *Server) reportTurnError(ctx context.Context, sessionID, op string, err error, send func(any) error) {
	if ctx.Err() != nil || errors.Is(err, voice.ErrConversationClosed) {
		return
	}
	code := "turn_failed"
	retryable := false
	switch {
	case errors.Is(err, voice.ErrTurnInFlight):
		code, retryable = "turn_in_flight", true
	case errors.Is(err, voice.ErrPermissionDenied):
		// Already surfaced as a notice.
		return
	case errors.Is(err, voice.ErrTurnNotFound):
		code = "turn_not_found"
	}
	_ = send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    op,
		Retryable: retryable,
		Detail:    err.Error(),
	})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Hello:
		return m.Type, true
	case protocol.SendText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.CaptureResult:
		return m.Type, true
	case protocol.CaptureError:
		return m.Type, true
	case protocol.PlaybackEnded:
		return m.Type, true
	case protocol.PlaybackError:
		return m.Type, true
	case protocol.SessionReady:
		return m.Type, true
	case protocol.StateChanged:
		return m.Type, true
	case protocol.TurnAppended:
		return m.Type, true
	case protocol.Notice:
		return m.Type, true
	case protocol.SpeakingChanged:
		return m.Type, true
	case protocol.CaptureRequest:
		return m.Type, true
	case protocol.CaptureCancel:
		return m.Type, true
	case protocol.AudioPlay:
		return m.Type, true
	case protocol.AudioStop:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
