package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/credentials"
	"github.com/dmitrijs2005/tradepost/internal/client/metrics"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL   = "http://localhost:8000/api/v1"
	DefaultUserAgent = "tradepost-client/1.0"

	headerRequestID = "X-Request-ID"
	refreshPath     = "/auth/refresh"
	jsonContentType = "application/json"
	tracerName      = "github.com/dmitrijs2005/tradepost/internal/client/api"
)

// TokenStore is the view of the credential store the pipeline needs.
type TokenStore interface {
	Access() (string, bool)
	Refresh() (string, bool)
	Set(ctx context.Context, p credentials.Pair) error
	Clear(ctx context.Context) error
}

// Request describes one API call. Path is relative to the base URL and must
// start with "/".
type Request struct {
	Method string
	Path   string
	Query  Params
	Body   any
	// NoRefresh marks credential exchanges: sent without the bearer token,
	// a 401 is returned as ErrUnauthorized and the stored pair is kept.
	NoRefresh bool
}

// RawBody is a request body sent as-is, bypassing JSON encoding. An empty
// ContentType leaves the header to the transport.
type RawBody struct {
	Data        []byte
	ContentType string
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     logging.Logger
	Metrics    *metrics.Pipeline
	Tracer     trace.Tracer
	UserAgent  string
	// OnSessionExpired runs after a failed refresh has cleared the store.
	OnSessionExpired func()
}

type Pipeline struct {
	base      string
	http      *http.Client
	store     TokenStore
	logger    logging.Logger
	metrics   *metrics.Pipeline
	tracer    trace.Tracer
	userAgent string
	onExpired func()
}

func NewPipeline(store TokenStore, opts Options) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("api: nil token store")
	}

	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", base)
	}

	p := &Pipeline{
		base:      strings.TrimRight(base, "/"),
		http:      opts.HTTPClient,
		store:     store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		userAgent: opts.UserAgent,
		onExpired: opts.OnSessionExpired,
	}
	if p.http == nil {
		p.http = &http.Client{}
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewPipeline(nil)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}
	return p, nil
}

// BaseURL returns the API root every path is resolved against.
func (p *Pipeline) BaseURL() string { return p.base }

// Do issues req and decodes a JSON response into out. out may be nil; it is
// left untouched when the response has no body.
//
// On a 401 the pipeline performs at most one refresh and one retry.
func (p *Pipeline) Do(ctx context.Context, req Request, out any) error {
	payload, contentType, err := encodeBody(req.Body)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
	}

	ctx, span := p.tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
			attribute.Bool("retried", false),
		),
	)
	defer span.End()

	err = p.attempt(ctx, req, payload, contentType, out, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Pipeline) attempt(ctx context.Context, req Request, payload []byte, contentType string, out any, retried bool) error {
	var opts []sendOption
	if req.NoRefresh {
		opts = append(opts, withoutCredentials())
	}
	status, body, err := p.send(ctx, req, payload, contentType, opts...)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && req.NoRefresh {
		return fmt.Errorf("%w: %s", ErrUnauthorized, newAPIError(status, body).Message)
	}
	if status == http.StatusUnauthorized {
		return p.handleUnauthorized(ctx, req, payload, contentType, out, retried, body)
	}
	if status < 200 || status > 299 {
		return newAPIError(status, body)
	}
	if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

func (p *Pipeline) handleUnauthorized(ctx context.Context, req Request, payload []byte, contentType string, out any, retried bool, body []byte) error {
	if retried {
		p.logger.Warn(ctx, "call rejected after credential refresh", "method", req.Method, "path", req.Path)
		p.clear(ctx)
		return ErrSessionExpired
	}

	refresh, ok := p.store.Refresh()
	if !ok {
		p.clear(ctx)
		return fmt.Errorf("%w: %s", ErrUnauthorized, newAPIError(http.StatusUnauthorized, body).Message)
	}

	pair, err := p.refresh(ctx, refresh)
	p.metrics.Refreshes.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		p.logger.Warn(ctx, "credential refresh failed", "error", err)
		p.clear(ctx)
		if p.onExpired != nil {
			p.onExpired()
		}
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	if err := p.store.Set(ctx, pair); err != nil {
		p.logger.Warn(ctx, "refreshed credentials not persisted", "error", err)
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent("credentials.refreshed")
	span.SetAttributes(attribute.Bool("retried", true))
	p.metrics.Retries.Inc()

	return p.attempt(ctx, req, payload, contentType, out, true)
}

// refresh exchanges the refresh token directly, outside Do, so an
// authorization failure here never recurses into another refresh.
func (p *Pipeline) refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return credentials.Pair{}, err
	}

	status, body, err := p.send(ctx, Request{Method: http.MethodPost, Path: refreshPath}, payload, jsonContentType, withoutCredentials())
	if err != nil {
		return credentials.Pair{}, err
	}
	if status < 200 || status > 299 {
		return credentials.Pair{}, newAPIError(status, body)
	}

	var tokens models.TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return credentials.Pair{}, fmt.Errorf("decode refresh response: %w", err)
	}
	pair := credentials.Pair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	if !pair.Complete() {
		return credentials.Pair{}, errors.New("refresh response is missing tokens")
	}
	return pair, nil
}

func (p *Pipeline) clear(ctx context.Context) {
	if err := p.store.Clear(ctx); err != nil {
		p.logger.Warn(ctx, "clearing credentials failed", "error", err)
	}
}

type sendOption func(*http.Request)

func withoutCredentials() sendOption {
	return func(r *http.Request) { r.Header.Del("Authorization") }
}

// send performs one HTTP exchange and returns the status and full body.
func (p *Pipeline) send(ctx context.Context, req Request, payload []byte, contentType string, opts ...sendOption) (int, []byte, error) {
	target := p.base + req.Path
	if q := req.Query.Encode(); q != "" {
		target += "?" + q
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", jsonContentType)
	httpReq.Header.Set("User-Agent", p.userAgent)
	httpReq.Header.Set(headerRequestID, requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if access, ok := p.store.Access(); ok {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}
	for _, opt := range opts {
		opt(httpReq)
	}

	start := time.Now()
	resp, err := p.http.Do(httpReq)
	p.metrics.Duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.Requests.WithLabelValues(req.Method, metrics.StatusClass(0)).Inc()
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	p.metrics.Requests.WithLabelValues(req.Method, metrics.StatusClass(resp.StatusCode)).Inc()
	p.logger.Debug(ctx, "api call", "method", req.Method, "path", req.Path, "status", resp.StatusCode, "request_id", requestID)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s %s response: %w", ErrNetwork, req.Method, req.Path, err)
	}
	return resp.StatusCode, data, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, jsonContentType, nil
	case RawBody:
		return b.Data, b.ContentType, nil
	case *RawBody:
		if b == nil {
			return nil, jsonContentType, nil
		}
		return b.Data, b.ContentType, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		return data, jsonContentType, nil
	}
}
