package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/observability"
)

// CaptureController runs single-shot speech captures. At most one capture is
// live; starting another cancels the previous one, whose result is discarded.
type CaptureController struct {
	recognizer Recognizer
	locale     string
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu     sync.Mutex
	seq    uint64
	active *captureSession
}

type captureSession struct {
	id        uint64
	cancel    context.CancelFunc
	cancelled bool
}

func NewCaptureController(recognizer Recognizer, locale string, logger *slog.Logger, metrics *observability.Metrics) *CaptureController {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = "en-US"
	}
	return &CaptureController{
		recognizer: recognizer,
		locale:     locale,
		logger:     logging.Component(logger, "capture"),
		metrics:    metrics,
	}
}

// Supported reports whether a speech-to-text capability is present.
func (c *CaptureController) Supported() bool {
	if c == nil || c.recognizer == nil {
		return false
	}
	if ar, ok := c.recognizer.(availabilityReporter); ok {
		return ar.Available()
	}
	return true
}

func (c *CaptureController) Locale() string { return c.locale }

// Capture listens for one utterance and returns its final transcript.
func (c *CaptureController) Capture(ctx context.Context) (string, error) {
	if !c.Supported() {
		c.metrics.IncCaptureOutcome("unsupported")
		return "", ErrCaptureUnsupported
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		c.metrics.IncCaptureOutcome("aborted")
		return "", ErrCaptureAborted
	}
	sctx, cancel := context.WithCancel(ctx)
	if c.active != nil {
		c.active.cancelled = true
		c.active.cancel()
	}
	c.seq++
	s := &captureSession{id: c.seq, cancel: cancel}
	c.active = s
	c.mu.Unlock()

	text, err := c.recognizer.Recognize(sctx, c.locale)

	c.mu.Lock()
	stale := s.cancelled
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	cancel()

	if stale || ctx.Err() != nil {
		if err == nil && text != "" {
			c.logger.Debug("discarding transcript from cancelled capture", "session", s.id)
		}
		c.metrics.IncCaptureOutcome("aborted")
		return "", ErrCaptureAborted
	}
	if err != nil {
		err = classifyCaptureError(err)
		c.metrics.IncCaptureOutcome(captureOutcome(err))
		if !errors.Is(err, ErrCaptureAborted) {
			c.logger.Warn("speech capture failed", "session", s.id, "error", err)
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.IncCaptureOutcome("empty")
		return "", ErrCaptureAborted
	}
	c.metrics.IncCaptureOutcome("transcript")
	return text, nil
}

// Cancel aborts the live capture, if any.
func (c *CaptureController) Cancel() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.cancelled = true
	c.active.cancel()
	c.active = nil
}

// Active reports whether a capture is in progress.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func classifyCaptureError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrCaptureAborted),
		errors.Is(err, ErrCaptureFailed), errors.Is(err, ErrCaptureUnsupported):
		return err
	case errors.Is(err, context.Canceled):
		return ErrCaptureAborted
	}
	var re *RecognitionError
	if errors.As(err, &re) {
		switch re.Code {
		case RecognitionNoPermission, RecognitionNotAllowed, RecognitionServiceNotAllowed:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, re.Code)
		case RecognitionAborted, RecognitionNoSpeech:
			return ErrCaptureAborted
		}
	}
	return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
}

func captureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrCaptureAborted):
		return "aborted"
	default:
		return "failed"
	}
}
