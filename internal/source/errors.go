package source

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNotAuthenticated is returned when the polling source has no usable credentials
	ErrNotAuthenticated = errors.New("source: not authenticated")
	// ErrNotConnected is returned when the hybrid source push channel is down
	ErrNotConnected = errors.New("source: not connected")
	// ErrTransient marks failures worth retrying on the next tick (5xx, rate limits)
	ErrTransient = errors.New("source: transient failure")
)

// ErrorCategory classifies source failures for logs and metrics
type ErrorCategory int

const (
	// ErrCategoryNetwork: connection, timeout, DNS or server-side failures
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryAuth: credentials missing, expired or rejected
	ErrCategoryAuth
	// ErrCategoryDecode: the payload could not be parsed
	ErrCategoryDecode
	// ErrCategoryUnknown: unclassified
	ErrCategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Classify maps err to an ErrorCategory.
// Typed errors are checked first, message keywords second.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return ErrCategoryAuth
	case errors.Is(err, ErrTransient), errors.Is(err, ErrNotConnected),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCategoryNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "401", "403", "forbidden", "token expired", "invalid token"):
		return ErrCategoryAuth
	case containsAny(msg, "decode", "unmarshal", "invalid character", "unexpected end of json"):
		return ErrCategoryDecode
	case containsAny(msg, "connection", "timeout", "unreachable", "network", "dns", "no such host", "eof"):
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
