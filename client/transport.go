package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

type TransportState int32

const (
	TransportStateStopped TransportState = iota
	TransportStateStarting
	TransportStateRunning
	TransportStateStopping
)

const capabilityHeader = "X-Hive-Capability"

// HTTPTransport issues single HTTP calls against the HiveDB base URL.
// It does not retry and does not interpret status codes; the engine owns
// both decisions. Bodies are JSON, responses are transparently decoded
// when the server compresses them.
type HTTPTransport struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	config         *types.ConnectionConfig
	client         *fasthttp.Client
	baseURL        string
	requestTimeout time.Duration
	state          atomic.Value
}

func NewHTTPTransport(ctx context.Context, logger types.Logger, config *types.ConnectionConfig) (types.Transport, error) {
	transportCtx, cancel := context.WithCancel(ctx)

	tlsConfig, err := buildTLSConfig(config.TLS)
	if err != nil {
		cancel()
		return nil, err
	}

	httpClient := &fasthttp.Client{
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		TLSConfig:    tlsConfig,
	}

	if config.UserAgent != "" {
		httpClient.Name = config.UserAgent
	}

	t := &HTTPTransport{
		ctx:            transportCtx,
		cancel:         cancel,
		logger:         logger,
		config:         config,
		client:         httpClient,
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		requestTimeout: config.Timeout,
	}

	t.state.Store(TransportStateStopped)

	return t, nil
}

func buildTLSConfig(config *types.TLSConfig) (*tls.Config, error) {
	if config == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.InsecureSkipVerify,
	}

	if config.CAFile != "" {
		caPEM, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, types.WrapError(err, "failed to read CA file")
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, types.NewErrorf("no certificates parsed from CA file: %s", config.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if config.CertFile != "" && config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, types.WrapError(err, "failed to load client key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (t *HTTPTransport) Start() error {
	if !t.transitionState(TransportStateStopped, TransportStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if t.getState() == TransportStateStarting {
			t.setState(TransportStateRunning)
		}
	}()

	t.logger.Info("HTTP transport started", zap.String("base_url", t.baseURL))
	return nil
}

func (t *HTTPTransport) Stop() error {
	if !t.transitionState(TransportStateRunning, TransportStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		t.setState(TransportStateStopped)
		t.cancel()
	}()

	t.client.CloseIdleConnections()

	t.logger.Info("HTTP transport stopped gracefully")
	return nil
}

func (t *HTTPTransport) IsRunning() bool {
	return t.getState() == TransportStateRunning
}

func (t *HTTPTransport) Call(ctx context.Context, method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !t.IsRunning() {
		return nil, 0, types.ErrEngineNotRunning
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(t.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAcceptEncoding, "gzip, br, deflate")

	if t.config.UserAgent != "" {
		req.Header.SetUserAgent(t.config.UserAgent)
	}

	if t.config.SecureMode && t.config.CapabilityToken != "" {
		req.Header.Set(capabilityHeader, t.config.CapabilityToken)
	}

	if data != nil {
		jsonData, err := utils.Marshal(data)
		if err != nil {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			return nil, 0, types.WrapError(err, "failed to marshal request data")
		}
		req.SetBody(jsonData)
		req.Header.SetContentType("application/json")
	}

	timeout := t.requestTimeout

	if opts != nil {
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}

		if opts.BearerToken != "" {
			req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+opts.BearerToken)
		}

		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The goroutine owns req and resp from here on. An abandoned call
	// must never touch them again: DoTimeout may still be writing into
	// resp after the select below gives up, so the pooled objects are
	// released inside the goroutine and only an independent body copy
	// crosses the channel.
	results := make(chan callResult, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		if err := t.client.DoTimeout(req, resp, timeout); err != nil {
			results <- callResult{err: types.WrapError(err, "request failed")}
			return
		}

		body, err := utils.DecodeResponseBody(resp)
		if err != nil {
			results <- callResult{err: types.WrapError(err, "failed to decode response body")}
			return
		}

		results <- callResult{body: body, statusCode: resp.StatusCode()}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, 0, res.err
		}

		t.logger.Debug("HTTP call completed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", res.statusCode))

		return res.body, res.statusCode, nil
	case <-callCtx.Done():
		return nil, 0, types.WrapError(callCtx.Err(), "request aborted")
	case <-t.ctx.Done():
		return nil, 0, types.WrapError(t.ctx.Err(), "transport shutting down")
	}
}

type callResult struct {
	body       []byte
	statusCode int
	err        error
}

func (t *HTTPTransport) getState() TransportState {
	return t.state.Load().(TransportState)
}

func (t *HTTPTransport) setState(newState TransportState) bool {
	currentState := t.getState()
	return t.state.CompareAndSwap(currentState, newState)
}

func (t *HTTPTransport) transitionState(from, to TransportState) bool {
	return t.state.CompareAndSwap(from, to)
}
