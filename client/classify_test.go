package client_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/hivedb-io/hivesync/client"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		expected   client.Outcome
	}{
		{"200 ok", fasthttp.StatusOK, client.OutcomeSuccess},
		{"201 created", fasthttp.StatusCreated, client.OutcomeSuccess},
		{"204 no content", fasthttp.StatusNoContent, client.OutcomeSuccess},
		{"401 unauthorized", fasthttp.StatusUnauthorized, client.OutcomeUnauthorized},
		{"400 bad request", fasthttp.StatusBadRequest, client.OutcomePermanent},
		{"403 forbidden", fasthttp.StatusForbidden, client.OutcomePermanent},
		{"404 not found", fasthttp.StatusNotFound, client.OutcomePermanent},
		{"429 too many requests", fasthttp.StatusTooManyRequests, client.OutcomePermanent},
		{"500 internal error", fasthttp.StatusInternalServerError, client.OutcomePermanent},
		{"503 unavailable", fasthttp.StatusServiceUnavailable, client.OutcomePermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if outcome := client.Classify(tc.statusCode, nil); outcome != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, outcome)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected client.Outcome
	}{
		{"deadline exceeded", context.DeadlineExceeded, client.OutcomeRetryable},
		{"wrapped deadline", fmt.Errorf("request failed: %w", context.DeadlineExceeded), client.OutcomeRetryable},
		{"fasthttp timeout", fasthttp.ErrTimeout, client.OutcomeRetryable},
		{"dial timeout", fasthttp.ErrDialTimeout, client.OutcomeRetryable},
		{"connection closed", fasthttp.ErrConnectionClosed, client.OutcomeRetryable},
		{"unexpected eof", io.ErrUnexpectedEOF, client.OutcomeRetryable},
		{"connection refused", syscall.ECONNREFUSED, client.OutcomeRetryable},
		{"connection reset", fmt.Errorf("request failed: %w", syscall.ECONNRESET), client.OutcomeRetryable},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "hivedb.invalid"}, client.OutcomeRetryable},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, client.OutcomeRetryable},
		{"decode failure", errors.New("failed to decode response body"), client.OutcomePermanent},
		{"marshalling failure", errors.New("invalid payload"), client.OutcomePermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if outcome := client.Classify(0, tc.err); outcome != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, outcome)
			}
		})
	}
}

func TestIsNetworkErrorRejectsNil(t *testing.T) {
	if client.IsNetworkError(nil) {
		t.Fatal("nil is not a network error")
	}
}
