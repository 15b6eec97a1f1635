package reliability

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Failure labels are bounded so they can be used as metric label values.
const (
	FailureCanceled = "canceled"
	FailureTimeout  = "timeout"
	FailureHTTP4xx  = "http_4xx"
	FailureHTTP5xx  = "http_5xx"
	FailureNetwork  = "network"
	FailureDecode   = "decode"
	FailureOther    = "other"
)

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// DecodeFailure marks errors raised while turning an upstream payload into audio.
type DecodeFailure interface {
	DecodeFailure() bool
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps an upstream error onto a failure label.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		switch {
		case code >= 500:
			return FailureHTTP5xx
		case code >= 400:
			return FailureHTTP4xx
		}
	}
	var df DecodeFailure
	if errors.As(err, &df) && df.DecodeFailure() {
		return FailureDecode
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "connection reset"):
		return FailureNetwork
	default:
		return FailureOther
	}
}
