package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	LogLevel  string
	LogFormat string

	// VoiceProvider selects the synthesis chain: auto, elevenlabs, local or mock.
	VoiceProvider  string
	LocalTTSEngine string
	DefaultEngine  string
	DefaultVoiceID string
	DefaultSpeed   float64
	CaptureLocale  string
	AudioOutput    string
	PlayerCommand  string
	RequireGesture bool
	PreviewText    string
	Greeting       string

	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string
	ElevenLabsStability       float64
	ElevenLabsSimilarity      float64
	ElevenLabsTimeout         time.Duration

	LocalKokoroPython       string
	LocalKokoroWorkerScript string
	LocalKokoroVoice        string
	LocalKokoroLangCode     string

	BrainMode     string
	BrainHTTPURL  string
	BrainTimeout  time.Duration
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	DatabaseURL string
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                  ":8080",
	"APP_SHUTDOWN_TIMEOUT":           "15s",
	"APP_SESSION_INACTIVITY_TIMEOUT": "2m",
	"APP_METRICS_NAMESPACE":          "voicedesk",
	"APP_ALLOW_ANY_ORIGIN":           "false",
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "text",
	"VOICE_PROVIDER":                 "auto",
	"LOCAL_TTS_ENGINE":               "kokoro",
	"VOICE_DEFAULT_ENGINE":           "remote",
	"VOICE_DEFAULT_ID":               "21m00Tcm4TlvDq8ikWAM",
	"VOICE_DEFAULT_SPEED":            "1.0",
	"CAPTURE_LOCALE":                 "en-US",
	"AUDIO_OUTPUT":                   "client",
	"AUDIO_PLAYER_COMMAND":           "ffplay -nodisp -autoexit -loglevel quiet -af atempo={speed} {file}",
	"PLAYBACK_REQUIRE_INTERACTION":   "true",
	"VOICE_PREVIEW_TEXT":             "Hello! This is how I will sound when I read your project updates.",
	"ASSISTANT_GREETING":             "Hello! I'm your Project Management Voice Assistant. I can help you track tasks, schedule meetings, and understand project management concepts. Try speaking to me or typing your question.",
	"ELEVENLABS_API_KEY":             "",
	"ELEVENLABS_BASE_URL":            "https://api.elevenlabs.io",
	"ELEVENLABS_TTS_MODEL_ID":        "eleven_monolingual_v1",
	"ELEVENLABS_TTS_OUTPUT_FORMAT":   "mp3_44100_128",
	"ELEVENLABS_STABILITY":           "0.5",
	"ELEVENLABS_SIMILARITY_BOOST":    "0.75",
	"ELEVENLABS_TIMEOUT":             "20s",
	"LOCAL_KOKORO_PYTHON":            "",
	"LOCAL_KOKORO_WORKER_SCRIPT":     "scripts/kokoro_worker.py",
	"LOCAL_KOKORO_VOICE":             "af_heart",
	"LOCAL_KOKORO_LANG_CODE":         "a",
	"BRAIN_MODE":                     "auto",
	"BRAIN_HTTP_URL":                 "",
	"BRAIN_TIMEOUT":                  "60s",
	"OPENAI_API_KEY":                 "",
	"OPENAI_MODEL":                   "gpt-4o",
	"OPENAI_BASE_URL":                "",
	"DATABASE_URL":                   "",
}

// Load reads settings from defaults, an optional YAML file and environment
// variables, in increasing order of precedence. File keys use the same names
// as the environment variables (case-insensitive).
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	r := reader{v: v}
	cfg := Config{
		BindAddr:                r.str("APP_BIND_ADDR"),
		MetricsNamespace:        r.str("APP_METRICS_NAMESPACE"),
		LogLevel:                strings.ToLower(r.str("LOG_LEVEL")),
		LogFormat:               strings.ToLower(r.str("LOG_FORMAT")),
		VoiceProvider:           strings.ToLower(r.str("VOICE_PROVIDER")),
		LocalTTSEngine:          strings.ToLower(r.str("LOCAL_TTS_ENGINE")),
		DefaultEngine:           strings.ToLower(r.str("VOICE_DEFAULT_ENGINE")),
		DefaultVoiceID:          r.str("VOICE_DEFAULT_ID"),
		CaptureLocale:           r.str("CAPTURE_LOCALE"),
		AudioOutput:             strings.ToLower(r.str("AUDIO_OUTPUT")),
		PlayerCommand:           r.str("AUDIO_PLAYER_COMMAND"),
		PreviewText:             r.str("VOICE_PREVIEW_TEXT"),
		Greeting:                r.str("ASSISTANT_GREETING"),
		ElevenLabsAPIKey:        r.str("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:       strings.TrimRight(r.str("ELEVENLABS_BASE_URL"), "/"),
		ElevenLabsTTSModel:      r.str("ELEVENLABS_TTS_MODEL_ID"),
		LocalKokoroPython:       r.str("LOCAL_KOKORO_PYTHON"),
		LocalKokoroWorkerScript: r.str("LOCAL_KOKORO_WORKER_SCRIPT"),
		LocalKokoroVoice:        r.str("LOCAL_KOKORO_VOICE"),
		LocalKokoroLangCode:     r.str("LOCAL_KOKORO_LANG_CODE"),
		BrainMode:               strings.ToLower(r.str("BRAIN_MODE")),
		BrainHTTPURL:            r.str("BRAIN_HTTP_URL"),
		OpenAIAPIKey:            r.str("OPENAI_API_KEY"),
		OpenAIModel:             r.str("OPENAI_MODEL"),
		OpenAIBaseURL:           r.str("OPENAI_BASE_URL"),
		DatabaseURL:             r.str("DATABASE_URL"),
	}
	cfg.ElevenLabsTTSOutputFormat = r.str("ELEVENLABS_TTS_OUTPUT_FORMAT")
	cfg.ShutdownTimeout = r.duration("APP_SHUTDOWN_TIMEOUT")
	cfg.SessionInactivityTimeout = r.duration("APP_SESSION_INACTIVITY_TIMEOUT")
	cfg.ElevenLabsTimeout = r.duration("ELEVENLABS_TIMEOUT")
	cfg.BrainTimeout = r.duration("BRAIN_TIMEOUT")
	cfg.AllowAnyOrigin = r.boolean("APP_ALLOW_ANY_ORIGIN")
	cfg.RequireGesture = r.boolean("PLAYBACK_REQUIRE_INTERACTION")
	cfg.DefaultSpeed = r.float("VOICE_DEFAULT_SPEED")
	cfg.ElevenLabsStability = r.float("ELEVENLABS_STABILITY")
	cfg.ElevenLabsSimilarity = r.float("ELEVENLABS_SIMILARITY_BOOST")
	if r.err != nil {
		return Config{}, r.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if !oneOf(c.VoiceProvider, "auto", "elevenlabs", "local", "mock") {
		return fmt.Errorf("VOICE_PROVIDER must be one of auto, elevenlabs, local, mock (got %q)", c.VoiceProvider)
	}
	if c.VoiceProvider == "elevenlabs" && c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("VOICE_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
	}
	if !oneOf(c.LocalTTSEngine, "kokoro", "mock", "none") {
		return fmt.Errorf("LOCAL_TTS_ENGINE must be one of kokoro, mock, none (got %q)", c.LocalTTSEngine)
	}
	if !oneOf(c.DefaultEngine, "remote", "local") {
		return fmt.Errorf("VOICE_DEFAULT_ENGINE must be remote or local (got %q)", c.DefaultEngine)
	}
	if c.DefaultSpeed < 0.5 || c.DefaultSpeed > 2.0 {
		return fmt.Errorf("VOICE_DEFAULT_SPEED must be within [0.5, 2.0]")
	}
	if !oneOf(c.AudioOutput, "client", "command", "none") {
		return fmt.Errorf("AUDIO_OUTPUT must be one of client, command, none (got %q)", c.AudioOutput)
	}
	if c.AudioOutput == "command" && !strings.Contains(c.PlayerCommand, "{file}") {
		return fmt.Errorf("AUDIO_PLAYER_COMMAND must reference {file}")
	}
	if !oneOf(c.BrainMode, "auto", "http", "openai", "offline", "mock") {
		return fmt.Errorf("BRAIN_MODE must be one of auto, http, openai, offline, mock (got %q)", c.BrainMode)
	}
	if c.BrainMode == "http" && c.BrainHTTPURL == "" {
		return fmt.Errorf("BRAIN_MODE=http requires BRAIN_HTTP_URL")
	}
	if c.BrainMode == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("BRAIN_MODE=openai requires OPENAI_API_KEY")
	}
	if c.ElevenLabsStability < 0 || c.ElevenLabsStability > 1 || c.ElevenLabsSimilarity < 0 || c.ElevenLabsSimilarity > 1 {
		return fmt.Errorf("ELEVENLABS_STABILITY and ELEVENLABS_SIMILARITY_BOOST must be within [0, 1]")
	}
	return nil
}

// reader parses typed values out of viper and keeps the first error, so Load
// reads like a flat list of assignments.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s parse error: %w", key, err))
		return 0
	}
	return d
}

func (r *reader) float(key string) float64 {
	raw := r.str(key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(fmt.Errorf("%s parse error: %w", key, err))
		return 0
	}
	return f
}

func (r *reader) boolean(key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		r.fail(fmt.Errorf("%s parse error: expected bool", key))
		return false
	}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
