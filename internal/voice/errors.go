package voice

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCaptureUnsupported       = errors.New("speech capture is not supported")
	ErrPermissionDenied         = errors.New("microphone permission denied")
	ErrCaptureAborted           = errors.New("speech capture aborted")
	ErrCaptureFailed            = errors.New("speech capture failed")
	ErrSynthesisRemoteFailure   = errors.New("remote synthesis failed")
	ErrUnsupportedPlatform      = errors.New("no speech synthesis engine available")
	ErrPlaybackFailed           = errors.New("audio playback failed")
	ErrPlaybackStopped          = errors.New("audio playback stopped")
	ErrPlaybackLocked           = errors.New("audio playback requires a user interaction first")
	ErrResponseGenerationFailed = errors.New("response generation failed")
	ErrTurnInFlight             = errors.New("a turn is already being processed")
	ErrNothingToSay             = errors.New("nothing to synthesize")
	ErrConversationClosed       = errors.New("conversation closed")
	ErrTurnNotFound             = errors.New("turn not found")
)

// Recognition error codes reported by the platform speech-to-text capability.
const (
	RecognitionNoPermission      = "no-permission"
	RecognitionNotAllowed        = "not-allowed"
	RecognitionServiceNotAllowed = "service-not-allowed"
	RecognitionAborted           = "aborted"
	RecognitionNoSpeech          = "no-speech"
	RecognitionOther             = "other"
)

// RecognitionError carries the platform error code of a failed capture.
type RecognitionError struct {
	Code   string
	Detail string
}

func (e *RecognitionError) Error() string {
	if strings.TrimSpace(e.Detail) == "" {
		return "speech recognition error: " + e.Code
	}
	return fmt.Sprintf("speech recognition error: %s: %s", e.Code, e.Detail)
}

// RemoteStatusError is returned when the remote synthesis provider answers
// with a non-success status.
type RemoteStatusError struct {
	StatusCode int
	Body       string
}

func (e *RemoteStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("remote synthesis status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote synthesis status %d: %s", e.StatusCode, body)
}

func (e *RemoteStatusError) HTTPStatus() int { return e.StatusCode }

func (e *RemoteStatusError) Unwrap() error { return ErrSynthesisRemoteFailure }

// payloadError marks a remote answer whose body is not playable audio.
type payloadError struct {
	reason string
}

func (e *payloadError) Error() string       { return "remote synthesis payload: " + e.reason }
func (e *payloadError) DecodeFailure() bool { return true }
func (e *payloadError) Unwrap() error       { return ErrSynthesisRemoteFailure }
