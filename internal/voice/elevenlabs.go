package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
)

type ElevenLabsConfig struct {
	APIKey          string
	BaseURL         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	// Timeout bounds a whole request; the core imposes none of its own.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ElevenLabsSynthesizer renders speech with the ElevenLabs text-to-speech
// REST endpoint.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_monolingual_v1"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost <= 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ElevenLabsSynthesizer{cfg: cfg, client: client}
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenTTSRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req RemoteSynthesisRequest) (*AudioResource, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return nil, fmt.Errorf("%w: voice_id is required", ErrSynthesisRemoteFailure)
	}
	body, err := json.Marshal(elevenTTSRequest{
		Text:    req.Text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, err
	}

	u := s.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID) +
		"?output_format=" + url.QueryEscape(s.cfg.OutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", s.cfg.outputFormat().MIME())
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteStatusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	return s.decode(payload)
}

func (c ElevenLabsConfig) outputFormat() audio.Format {
	return audio.FormatFromOutput(c.OutputFormat)
}

// decode turns the response body into a resource. Raw PCM output is wrapped
// in WAV; encoded output must sniff as the requested container.
func (s *ElevenLabsSynthesizer) decode(payload []byte) (*AudioResource, error) {
	if len(payload) == 0 {
		return nil, &payloadError{reason: "empty body"}
	}
	if rate, ok := pcmOutputRate(s.cfg.OutputFormat); ok {
		if len(payload)%2 != 0 {
			return nil, &payloadError{reason: "odd pcm16 length"}
		}
		return newWAVResource(payload, rate)
	}
	got := audio.SniffFormat(payload)
	if got == audio.FormatUnknown {
		return nil, &payloadError{reason: "unrecognized audio container"}
	}
	return NewAudioResource(payload, got, nil), nil
}

// pcmOutputRate parses "pcm_16000" style formats.
func pcmOutputRate(outputFormat string) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(outputFormat))
	if !strings.HasPrefix(v, "pcm_") {
		return 0, false
	}
	var rate int
	if _, err := fmt.Sscanf(v, "pcm_%d", &rate); err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}
