package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/metrics"
	"github.com/ryabkov82/crm-writer/internal/sink"
	"github.com/ryabkov82/crm-writer/internal/version"
)

const (
	dispatchModule = "dispatch"
	tracerName     = "github.com/ryabkov82/crm-writer/internal/client"

	// DefaultBaseURL is the public HubSpot API root.
	DefaultBaseURL = "https://api.hubapi.com/"
	// ProbePath is a cheap authenticated read used to verify credentials.
	ProbePath = "crm/v3/objects/contacts"
)

// Config is the per-run transport configuration.
type Config struct {
	BaseURL        string
	AuthMode       AuthMode
	Token          string
	TimeoutSeconds int
	MaxRetries     int
	BackoffMs      int
	BackoffMaxMs   int
}

// DefaultConfig returns 30s calls retried up to 5 times with 1s..60s backoff.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		AuthMode:       AuthBearer,
		TimeoutSeconds: 30,
		MaxRetries:     5,
		BackoffMs:      1000,
		BackoffMaxMs:   60000,
	}
}

// Request is one logical API call. Path may contain {placeholders} filled from Params.
type Request struct {
	// Operation labels logs, spans and metrics.
	Operation string
	Method    string
	Path      string
	Params    map[string]string
	Query     url.Values
	// Body is JSON-encoded; nil sends no body.
	Body interface{}
	// Context is attached to error records whose response carries none.
	Context json.RawMessage
}

// Result describes a call that got a final answer from the server.
type Result struct {
	StatusCode int
	Attempts   int
	// Recorded is the number of error records written to the sink by this call.
	Recorded int
}

// Dispatcher sends requests with retry and backoff and routes failures to the sink.
type Dispatcher struct {
	client       *http.Client
	baseURL      string
	authMode     AuthMode
	token        string
	maxRetries   int
	backoffMs    int
	backoffMaxMs int

	sink     *sink.Sink
	recorder *metrics.Recorder
	log      *slog.Logger
	tracer   trace.Tracer
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder enables metrics.
func WithRecorder(r *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithTracerProvider replaces the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// NewDispatcher creates a dispatcher recording failures into s.
func NewDispatcher(cfg Config, s *sink.Sink, opts ...Option) (*Dispatcher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, exception.Configuration(dispatchModule, "api token is empty", exception.ErrMissingCredential)
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthBearer
	}
	if cfg.AuthMode != AuthBearer && cfg.AuthMode != AuthQueryKey {
		return nil, exception.Configuration(dispatchModule, fmt.Sprintf("unknown auth mode %q", cfg.AuthMode), nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, exception.Configuration(dispatchModule, "invalid base url", err)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMaxMs < cfg.BackoffMs {
		cfg.BackoffMaxMs = cfg.BackoffMs
	}
	if s == nil {
		s = sink.New()
	}

	d := &Dispatcher{
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/") + "/",
		authMode:     cfg.AuthMode,
		token:        cfg.Token,
		maxRetries:   cfg.MaxRetries,
		backoffMs:    cfg.BackoffMs,
		backoffMaxMs: cfg.BackoffMaxMs,
		sink:         s,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d, nil
}

// Sink returns the sink the dispatcher records into.
func (d *Dispatcher) Sink() *sink.Sink {
	return d.sink
}

// Send performs req with retry.
//
// A nil error means the server accepted the call; per-input failures of a 207 are
// in the sink. A final non-success status or network failure is recorded to the
// sink and returned as a non-fatal error. Malformed requests return a validation
// error and context cancellation returns ctx.Err(); neither is recorded.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	target, err := d.buildURL(req.Path, req.Params, req.Query)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if req.Body != nil {
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, exception.New(exception.KindValidation, dispatchModule, "marshal request body", err)
		}
	}

	ctx, span := d.tracer.Start(ctx, "crm."+req.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("crm.operation", req.Operation),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	start := time.Now()
	resp, attempts, err := d.do(ctx, req.Operation, req.Method, target, payload)
	span.SetAttributes(attribute.Int("crm.attempts", attempts))

	if err != nil {
		d.recorder.ObserveRequest(req.Operation, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.record(req.Operation, sink.ErrorRecord{
			Status:   "error",
			Category: sink.CategoryNetwork,
			Message:  err.Error(),
			Context:  req.Context,
		})
		d.log.Warn("request failed", "operation", req.Operation, "attempts", attempts, "error", err)
		return &Result{Attempts: attempts, Recorded: 1}, err
	}

	d.recorder.ObserveRequest(req.Operation, resp.status, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))
	result := &Result{StatusCode: resp.status, Attempts: attempts}

	switch {
	case resp.status == http.StatusMultiStatus:
		records, perr := partialRecords(resp.body, req.Context)
		if perr != nil {
			records = []sink.ErrorRecord{errorRecord(resp.status, resp.body, req.Context)}
		}
		for _, rec := range records {
			d.record(req.Operation, rec)
		}
		result.Recorded = len(records)
		d.log.Warn("batch partially failed", "operation", req.Operation, "status", resp.status, "errors", len(records))
		return result, nil

	case resp.status >= 200 && resp.status < 300:
		d.log.Debug("request accepted", "operation", req.Operation, "status", resp.status, "attempts", attempts)
		return result, nil

	default:
		httpErr := &HTTPError{StatusCode: resp.status, Body: truncate(string(resp.body)), RetryAfter: resp.retryAfter}
		span.SetStatus(codes.Error, httpErr.Error())
		d.record(req.Operation, errorRecord(resp.status, resp.body, req.Context))
		result.Recorded = 1
		d.log.Warn("request rejected", "operation", req.Operation, "status", resp.status, "attempts", attempts)
		return result, httpErr
	}
}

// Probe verifies the credentials with one authenticated read. Any failure is fatal.
func (d *Dispatcher) Probe(ctx context.Context) error {
	target, err := d.buildURL(ProbePath, nil, url.Values{"limit": {"1"}})
	if err != nil {
		return err
	}

	resp, _, err := d.do(ctx, "probe", http.MethodGet, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return exception.Authentication(dispatchModule, "could not reach the API to verify credentials", err)
	}
	if resp.status < 200 || resp.status >= 300 {
		return exception.Authentication(dispatchModule, "invalid credentials",
			&HTTPError{StatusCode: resp.status, Body: truncate(string(resp.body))})
	}
	return nil
}

func (d *Dispatcher) record(operation string, rec sink.ErrorRecord) {
	d.sink.Record(rec)
	d.recorder.IncErrorRecord(operation, rec.Category)
}

type response struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

// do runs the retry loop. A returned error is a network failure or cancellation;
// any HTTP response, retryable or not, ends up in response once retries are spent.
func (d *Dispatcher) do(ctx context.Context, operation, method, target string, payload []byte) (*response, int, error) {
	var (
		last    *response
		lastErr error
	)

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			d.recorder.IncRetry(operation)

			backoff := d.backoff(attempt)
			if last != nil && last.retryAfter > 0 {
				backoff = last.retryAfter
			}

			d.log.Debug("retrying request", "operation", operation, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := d.once(ctx, method, target, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempt + 1, ctx.Err()
			}
			last, lastErr = nil, err
			continue
		}

		last, lastErr = resp, nil
		if !isRetryableStatus(resp.status) {
			return resp, attempt + 1, nil
		}
	}

	if lastErr != nil {
		return nil, d.maxRetries + 1, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return last, d.maxRetries + 1, nil
}

func (d *Dispatcher) once(ctx context.Context, method, target string, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	authorize(req, d.authMode, d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", redactURL(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response{
		status:     resp.StatusCode,
		body:       data,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// buildURL joins the base URL with path, substituting {placeholders} path-escaped.
func (d *Dispatcher) buildURL(path string, params map[string]string, query url.Values) (string, error) {
	var missing []string
	resolved := placeholder.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", exception.Validation(dispatchModule, "unresolved path placeholders %v in %s", missing, path)
	}

	u, err := url.Parse(d.baseURL + strings.TrimLeft(resolved, "/"))
	if err != nil {
		return "", exception.New(exception.KindValidation, dispatchModule, "invalid request url", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// backoff returns the delay before retry attempt (1-based): BackoffMs doubled
// per attempt, capped at BackoffMaxMs.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	limit := time.Duration(d.backoffMaxMs) * time.Millisecond
	delay := time.Duration(d.backoffMs) * time.Millisecond
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	return delay
}

// isRetryableStatus reports whether status is a transient failure.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		521:
		return true
	}
	return false
}

// parseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
