package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrConnection  = errors.New("connection failed")
	ErrOfflineMode = errors.New("offline with no cached data")
	ErrAPI         = errors.New("api error")
)

var (
	ErrAuthorization   = errors.New("authorization failed")
	ErrSession            = errors.New("session invalid")
	ErrSessionNotFound    = errors.New("session not found")
	ErrCellSecretMismatch = errors.New("cell secret does not match the recorded credential")
)

var (
	ErrCache            = errors.New("cache storage failed")
	ErrCacheKeyEmpty    = errors.New("cache key empty")
	ErrCacheTypeUnknown = errors.New("cache backend unknown")
	ErrCacheIsDisabled  = errors.New("cache store is disabled")
)

var (
	ErrQueue         = errors.New("queue storage failed")
	ErrQueueIDEmpty  = errors.New("queue operation id empty")
	ErrMethodUnknown = errors.New("operation method unknown")
)

var (
	ErrSchedulerIsRunning    = errors.New("scheduler is running")
	ErrSchedulerJobExists    = errors.New("scheduler job exists")
	ErrSchedulerJobIsNil     = errors.New("scheduler job is nil")
	ErrSchedulerJobNameEmpty = errors.New("scheduler job name is empty")
	ErrSchedulerExprInvalid  = errors.New("scheduler expression invalid")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrEngineNotRunning     = errors.New("engine not running")
	ErrEngineAlreadyRunning = errors.New("engine already running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrResourceNotFound = errors.New("resource not found")
	ErrContextCancelled = errors.New("context cancelled")
	ErrInvalidState     = errors.New("invalid state")
)

// APIError is a well-formed error response from the remote service. It is
// never retried and unwraps to ErrAPI.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}

func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{StatusCode: statusCode, Message: message}
}

// AsAPIError unwraps err to *APIError when err carries one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
