package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Engine selects which synthesis path is tried first.
type Engine string

const (
	EngineRemote Engine = "remote"
	EngineLocal  Engine = "local"
)

const (
	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

var ErrInvalidEngine = errors.New("invalid voice engine")

// VoiceSettings is the user's voice preference. The core reads it fresh for
// every synthesis and trusts the values produced by Normalize.
type VoiceSettings struct {
	Engine  Engine  `json:"engine"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

// Defaults returns the settings applied when a user has none stored.
func Defaults() VoiceSettings {
	return VoiceSettings{
		Engine:  EngineRemote,
		VoiceID: DefaultVoiceID,
		Speed:   DefaultSpeed,
	}
}

// ParseEngine accepts engine names case-insensitively. Empty means remote.
func ParseEngine(raw string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(EngineRemote), "elevenlabs":
		return EngineRemote, nil
	case string(EngineLocal), "browser", "kokoro":
		return EngineLocal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEngine, raw)
	}
}

// ClampSpeed bounds speed to [MinSpeed, MaxSpeed]; non-finite or zero values
// become DefaultSpeed.
func ClampSpeed(speed float64) float64 {
	if speed == 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return DefaultSpeed
	}
	return math.Min(MaxSpeed, math.Max(MinSpeed, speed))
}

// Normalize fills defaults and clamps values. It fails only on an unknown engine.
func (s VoiceSettings) Normalize(fallback VoiceSettings) (VoiceSettings, error) {
	engine, err := ParseEngine(string(s.Engine))
	if err != nil {
		return VoiceSettings{}, err
	}
	if strings.TrimSpace(string(s.Engine)) == "" && fallback.Engine != "" {
		engine = fallback.Engine
	}
	out := VoiceSettings{
		Engine:  engine,
		VoiceID: strings.TrimSpace(s.VoiceID),
		Speed:   ClampSpeed(s.Speed),
	}
	if out.VoiceID == "" {
		out.VoiceID = fallback.VoiceID
	}
	if out.VoiceID == "" {
		out.VoiceID = DefaultVoiceID
	}
	return out, nil
}
