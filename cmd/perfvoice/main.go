package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type previewRequest struct {
	Text string `json:"text,omitempty"`
}

// wsEnvelope holds the server message fields the probe looks at.
type wsEnvelope struct {
	Type      string         `json:"type"`
	State     string         `json:"state,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Code      string         `json:"code,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Turn      *protocol.Turn `json:"turn,omitempty"`
}

// turnTiming is measured from the moment send_text is written.
type turnTiming struct {
	Text       string
	Processing time.Duration
	Reply      time.Duration
	FirstAudio time.Duration
	Idle       time.Duration
}

type report struct {
	PreviewLatency time.Duration
	PreviewAudio   time.Duration
	Turns          []turnTiming
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	rep, err := run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, rep)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perfvoice", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voicedesk base URL")
	fs.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	fs.IntVar(&cfg.turns, "turns", 10, "number of text turns to replay")
	fs.IntVar(&startDelayMS, "start-delay-ms", 300, "delay before the first turn in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for a turn to return to idle in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options) (report, error) {
	var rep report
	httpClient := &http.Client{Timeout: 45 * time.Second}

	latency, audioLen, err := probePreview(ctx, httpClient, cfg.baseURL, cfg.texts[0])
	if err != nil {
		return rep, fmt.Errorf("preview: %w", err)
	}
	rep.PreviewLatency, rep.PreviewAudio = latency, audioLen

	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return rep, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()
	if cfg.verbose {
		fmt.Printf("perfvoice: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return rep, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return rep, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.Hello{Type: protocol.TypeHello}); err != nil {
		return rep, err
	}
	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionInteraction}); err != nil {
		return rep, err
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	events := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh, cfg.verbose)

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("perfvoice: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		timing, err := runTurn(conn, text, events, readErrCh, cfg.turnTimeout)
		if err != nil {
			return rep, fmt.Errorf("turn %d: %w", i+1, err)
		}
		rep.Turns = append(rep.Turns, timing)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return rep, nil
}

// runTurn sends one text turn and acknowledges its audio at once, so the
// measured time covers reply generation and synthesis only.
func runTurn(conn *websocket.Conn, text string, events <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (turnTiming, error) {
	timing := turnTiming{Text: text}
	start := time.Now()
	if err := conn.WriteJSON(protocol.SendText{Type: protocol.TypeSendText, Text: text}); err != nil {
		return timing, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case err := <-readErrCh:
			return timing, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return timing, fmt.Errorf("timeout after %s", timeout)
		case evt := <-events:
			switch evt.Type {
			case string(protocol.TypeStateChanged):
				switch evt.State {
				case "processing":
					if timing.Processing == 0 {
						timing.Processing = time.Since(start)
					}
				case "idle":
					if timing.Processing > 0 {
						timing.Idle = time.Since(start)
						return timing, nil
					}
				}
			case string(protocol.TypeTurnAppended):
				if evt.Turn != nil && evt.Turn.Role == "assistant" {
					timing.Reply = time.Since(start)
				}
			case string(protocol.TypeAudioPlay):
				timing.FirstAudio = time.Since(start)
				ack := protocol.PlaybackEnded{Type: protocol.TypePlaybackEnded, RequestID: evt.RequestID}
				if err := conn.WriteJSON(ack); err != nil {
					return timing, err
				}
			case string(protocol.TypeErrorEvent):
				if evt.Code == "turn_in_flight" {
					return timing, fmt.Errorf("server rejected turn: %s", evt.Detail)
				}
			}
		}
	}
}

func probePreview(ctx context.Context, client *http.Client, baseURL, text string) (time.Duration, time.Duration, error) {
	payload, err := json.Marshal(previewRequest{Text: text})
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/tts/preview", bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return 0, 0, err
	}
	latency := time.Since(start)
	if res.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if audio.SniffFormat(body) != audio.FormatWAV {
		// Compressed remote audio has no cheap duration.
		return latency, 0, nil
	}
	pcm, sampleRate, err := audio.DecodeWAVPCM16(body)
	if err != nil {
		return 0, 0, fmt.Errorf("decode preview wav: %w", err)
	}
	return latency, time.Duration(audio.PCM16DurationMS(pcm, sampleRate)) * time.Millisecond, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == string(protocol.TypeErrorEvent) && verbose {
			fmt.Fprintf(os.Stderr, "perfvoice: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
		events <- env
	}
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintf(w, "preview: latency=%s audio=%s\n", rep.PreviewLatency.Round(time.Millisecond), rep.PreviewAudio)
	stages := []struct {
		name string
		pick func(turnTiming) time.Duration
	}{
		{"processing", func(t turnTiming) time.Duration { return t.Processing }},
		{"reply", func(t turnTiming) time.Duration { return t.Reply }},
		{"first_audio", func(t turnTiming) time.Duration { return t.FirstAudio }},
		{"idle", func(t turnTiming) time.Duration { return t.Idle }},
	}
	for _, stage := range stages {
		values := make([]time.Duration, 0, len(rep.Turns))
		for _, t := range rep.Turns {
			if v := stage.pick(t); v > 0 {
				values = append(values, v)
			}
		}
		fmt.Fprintf(w, "%-11s n=%d p50=%s p95=%s\n", stage.name, len(values),
			percentile(values, 0.50).Round(time.Millisecond),
			percentile(values, 0.95).Round(time.Millisecond))
	}
}
