package client

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/valyala/fasthttp"
)

// Outcome is the engine's verdict on a single transport attempt.
type Outcome int

const (
	// OutcomeSuccess: 2xx response, payload is usable.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable: the request may never have reached the server;
	// repeating it is worthwhile.
	OutcomeRetryable
	// OutcomeUnauthorized: the server answered 401, credentials need a
	// refresh before the call is repeated.
	OutcomeUnauthorized
	// OutcomePermanent: the server answered and said no; retrying the
	// same request cannot change the verdict.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeUnauthorized:
		return "unauthorized"
	default:
		return "permanent"
	}
}

// Classify maps a transport result onto an outcome. Only network-level
// failures count as retryable: a well-formed error response, 5xx
// included, means the server made a decision and gets no retry.
func Classify(statusCode int, err error) Outcome {
	if err != nil {
		if IsNetworkError(err) {
			return OutcomeRetryable
		}
		return OutcomePermanent
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == fasthttp.StatusUnauthorized:
		return OutcomeUnauthorized
	default:
		return OutcomePermanent
	}
}

// IsNetworkError reports whether err is a transport-level failure such
// as a timeout, refused or reset connection, or a DNS lookup problem.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) ||
		errors.Is(err, fasthttp.ErrNoFreeConns) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT,
			syscall.EPIPE:
			return true
		}
	}

	return false
}
