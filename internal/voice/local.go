package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
	"github.com/ent0n29/voicedesk/internal/logging"
)

type KokoroConfig struct {
	Python        string
	WorkerScript  string
	Voice         string
	LangCode      string
	WarmupTimeout time.Duration
}

// KokoroEngine renders speech with a long-lived Kokoro worker process. The
// worker starts in the background; its catalog is available once it has
// answered a warmup request.
type KokoroEngine struct {
	cfg    KokoroConfig
	logger *slog.Logger

	ready    chan struct{}
	worker   *kokoroWorker
	startErr error
}

var kokoroCatalog = []LocalVoice{
	{ID: "af_heart", Name: "Heart (Kokoro, Female, US, warm)", Locale: "en-US"},
	{ID: "af_bella", Name: "Bella (Kokoro, Female, US, bright)", Locale: "en-US"},
	{ID: "af_river", Name: "River (Kokoro, Female, US, clear)", Locale: "en-US"},
	{ID: "af_sarah", Name: "Sarah (Kokoro, Female, US, intimate)", Locale: "en-US"},
	{ID: "af_nicole", Name: "Nicole (Kokoro, Female, US, steady)", Locale: "en-US"},
	{ID: "am_adam", Name: "Adam (Kokoro, Male, US)", Locale: "en-US"},
	{ID: "am_michael", Name: "Michael (Kokoro, Male, US)", Locale: "en-US"},
	{ID: "bf_emma", Name: "Emma (Kokoro, Female, UK, velvety)", Locale: "en-GB"},
	{ID: "bm_george", Name: "George (Kokoro, Male, UK)", Locale: "en-GB"},
}

func NewKokoroEngine(cfg KokoroConfig, logger *slog.Logger) *KokoroEngine {
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "af_heart"
	}
	if strings.TrimSpace(cfg.LangCode) == "" {
		cfg.LangCode = "a"
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 25 * time.Second
	}
	e := &KokoroEngine{
		cfg:    cfg,
		logger: logging.Component(logger, "kokoro"),
		ready:  make(chan struct{}),
	}
	go e.start()
	return e
}

func (e *KokoroEngine) start() {
	defer close(e.ready)
	py, script, err := resolveKokoroPaths(e.cfg)
	if err != nil {
		e.startErr = err
		e.logger.Warn("local speech engine unavailable", "error", err)
		return
	}
	started := time.Now()
	worker, err := startKokoroWorker(py, script, e.cfg.Voice, e.cfg.LangCode, e.cfg.WarmupTimeout)
	if err != nil {
		e.startErr = err
		e.logger.Warn("local speech engine unavailable", "error", err)
		return
	}
	e.worker = worker
	e.logger.Info("kokoro worker ready", "python", py, "warmup_ms", time.Since(started).Milliseconds())
}

func resolveKokoroPaths(cfg KokoroConfig) (string, string, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		// Prefer a local venv if present.
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil {
				py = p
				break
			}
		}
	}
	if py == "" {
		return "", "", errors.New("LOCAL_KOKORO_PYTHON not set and python3 not found on PATH")
	}
	script := strings.TrimSpace(cfg.WorkerScript)
	if script == "" {
		script = "scripts/kokoro_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return "", "", fmt.Errorf("kokoro worker script not found: %s", script)
	}
	return py, script, nil
}

func (e *KokoroEngine) wait(ctx context.Context) error {
	select {
	case <-e.ready:
		return e.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Voices lists the catalog with the configured voice first.
func (e *KokoroEngine) Voices(ctx context.Context) ([]LocalVoice, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]LocalVoice, 0, len(kokoroCatalog))
	for _, v := range kokoroCatalog {
		if v.ID == e.cfg.Voice {
			v.Default = true
			out = append([]LocalVoice{v}, out...)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Render synthesizes one utterance. Pitch is not supported by Kokoro and is
// ignored.
func (e *KokoroEngine) Render(ctx context.Context, u Utterance) (*AudioResource, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	voice := u.Voice.ID
	if voice == "" {
		voice = e.cfg.Voice
	}

	type result struct {
		data   []byte
		format string
		err    error
	}
	// The worker protocol cannot be interrupted mid-request, so a cancelled
	// caller returns early and the late result is dropped.
	done := make(chan result, 1)
	go func() {
		data, format, err := e.worker.Synthesize(kokoroRequest{
			Text:     u.Text,
			Voice:    voice,
			LangCode: e.cfg.LangCode,
			Speed:    u.Rate,
		})
		done <- result{data, format, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return kokoroResource(r.data, r.format, u.Volume)
}

func kokoroResource(data []byte, format string, volume float64) (*AudioResource, error) {
	if rate, ok := pcmOutputRate(format); ok {
		audio.ScalePCM16(data, volume)
		return newWAVResource(data, rate)
	}
	if audio.SniffFormat(data) != audio.FormatWAV {
		return nil, fmt.Errorf("kokoro returned unsupported audio format %q", format)
	}
	if volume == 1 || volume <= 0 {
		return NewAudioResource(data, audio.FormatWAV, nil), nil
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, err
	}
	audio.ScalePCM16(pcm, volume)
	return newWAVResource(pcm, rate)
}

func (e *KokoroEngine) Close() error {
	select {
	case <-e.ready:
	default:
		// still warming up; the worker is stopped once start returns.
		go func() {
			<-e.ready
			if e.worker != nil {
				_ = e.worker.Close()
			}
		}()
		return nil
	}
	if e.worker == nil {
		return nil
	}
	return e.worker.Close()
}

type kokoroWorker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	seq    int64
	closed bool
}

type kokoroRequest struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	LangCode string  `json:"lang_code"`
	Speed    float64 `json:"speed"`
}

type kokoroResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

func startKokoroWorker(python, script, voice, lang string, warmup time.Duration) (*kokoroWorker, error) {
	cmd := exec.Command(python, "-u", script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start kokoro worker: %w", err)
	}
	w := &kokoroWorker{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	warmed := make(chan error, 1)
	go func() {
		_, _, err := w.Synthesize(kokoroRequest{Text: "warmup", Voice: voice, LangCode: lang, Speed: 1})
		warmed <- err
	}()
	select {
	case err = <-warmed:
	case <-time.After(warmup):
		err = fmt.Errorf("warmup timed out after %s", warmup)
	}
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("kokoro worker failed to start: %s", msg)
	}
	return w, nil
}

// Synthesize sends one request line and decodes exactly one response; the
// worker is single-flight.
func (w *kokoroWorker) Synthesize(req kokoroRequest) ([]byte, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, "", errors.New("kokoro worker closed")
	}

	w.seq++
	req.ID = fmt.Sprintf("req-%d", w.seq)
	if req.Speed <= 0 {
		req.Speed = 1.0
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return nil, "", fmt.Errorf("write kokoro request: %w", err)
	}

	var resp kokoroResponse
	if err := w.dec.Decode(&resp); err != nil {
		return nil, "", fmt.Errorf("read kokoro response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, "", fmt.Errorf("kokoro worker out of sync (got %q, want %q)", resp.ID, req.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown kokoro error"
		}
		return nil, "", errors.New(msg)
	}
	format := strings.TrimSpace(resp.Format)
	if format == "" {
		format = "wav_24000"
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode audio_base64: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("kokoro returned no audio")
	}
	return data, format, nil
}

func (w *kokoroWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin, cmd := w.stdin, w.cmd
	w.mu.Unlock()

	_ = stdin.Close()
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
