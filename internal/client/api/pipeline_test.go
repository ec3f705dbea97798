package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/tradepost/internal/client/credentials"
	"github.com/dmitrijs2005/tradepost/internal/client/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recorded struct {
	Method  string
	Path    string
	RawPath string
	Query   string
	Auth    string
	Body    string
	Header  http.Header
}

// fakeServer records every request. Calls to /api/v1/auth/refresh go to
// refresh, everything else to handle.
type fakeServer struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []recorded
	handle  func(w http.ResponseWriter, r *http.Request, body string)
	refresh func(w http.ResponseWriter, r *http.Request, body string)
	srv     *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recorded{
			Method:  r.Method,
			Path:    r.URL.Path,
			RawPath: r.URL.EscapedPath(),
			Query:   r.URL.RawQuery,
			Auth:    r.Header.Get("Authorization"),
			Body:    string(b),
			Header:  r.Header.Clone(),
		})
		handle, refresh := f.handle, f.refresh
		f.mu.Unlock()

		if r.URL.Path == "/api/v1/auth/refresh" {
			if refresh == nil {
				http.Error(w, `{"detail":"refresh not expected"}`, http.StatusInternalServerError)
				return
			}
			refresh(w, r, string(b))
			return
		}
		handle(w, r, string(b))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) baseURL() string { return f.srv.URL + "/api/v1" }

func (f *fakeServer) recorded() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.calls...)
}

func (f *fakeServer) count(path string) int {
	n := 0
	for _, c := range f.recorded() {
		if c.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func rotateTokens(access, refresh string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
		})
	}
}

func loggedInStore(t *testing.T) *credentials.Store {
	t.Helper()
	s := credentials.NewMemoryStore()
	require.NoError(t, s.Set(context.Background(), credentials.Pair{AccessToken: "A1", RefreshToken: "R1"}))
	return s
}

func newTestPipeline(t *testing.T, f *fakeServer, store TokenStore, mod func(*Options)) *Pipeline {
	t.Helper()
	opts := Options{BaseURL: f.baseURL(), HTTPClient: f.srv.Client()}
	if mod != nil {
		mod(&opts)
	}
	p, err := NewPipeline(store, opts)
	require.NoError(t, err)
	return p
}

func TestDo_SuccessAttachesHeaders(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u-1", "email": "a@b.c"})
	}
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/users/me"}, &out))
	assert.Equal(t, "u-1", out.ID)

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/v1/users/me", calls[0].Path)
	assert.Equal(t, "Bearer A1", calls[0].Auth)
	assert.Equal(t, "application/json", calls[0].Header.Get("Content-Type"))
	assert.Equal(t, DefaultUserAgent, calls[0].Header.Get("User-Agent"))
	_, err := uuid.Parse(calls[0].Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestDo_AnonymousSendsNoAuthorization(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	}
	p := newTestPipeline(t, f, credentials.NewMemoryStore(), nil)

	require.NoError(t, p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/feed"}, nil))
	assert.Empty(t, f.recorded()[0].Auth)
}

func TestDo_QueryOmitsAbsentParams(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) { w.WriteHeader(http.StatusNoContent) }
	p := newTestPipeline(t, f, credentials.NewMemoryStore(), nil)

	var nilFloat *float64
	minPrice := 10.5
	err := p.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/search",
		Query: Params{
			"q":         "lamp",
			"category":  nil,
			"max_price": nilFloat,
			"min_price": &minPrice,
			"page":      2,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "min_price=10.5&page=2&q=lamp", f.recorded()[0].Query)
}

func TestDo_RefreshThenRetryOnce(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "L-1"})
	}
	f.refresh = rotateTokens("A2", "R2")

	store := loggedInStore(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg)
	p := newTestPipeline(t, f, store, func(o *Options) { o.Metrics = m })

	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"title": "Lamp", "price": 12}
	require.NoError(t, p.Do(context.Background(), Request{Method: http.MethodPost, Path: "/listings", Body: body}, &out))
	assert.Equal(t, "L-1", out.ID)

	calls := f.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, "Bearer A1", calls[0].Auth)
	assert.Equal(t, "/api/v1/auth/refresh", calls[1].Path)
	assert.Empty(t, calls[1].Auth, "refresh must not carry the stale access token")
	assert.JSONEq(t, `{"refresh_token":"R1"}`, calls[1].Body)
	assert.Equal(t, "Bearer A2", calls[2].Auth)
	assert.Equal(t, calls[0].Body, calls[2].Body, "retry must replay the same body")

	pair, ok := store.Pair()
	require.True(t, ok)
	assert.Equal(t, credentials.Pair{AccessToken: "A2", RefreshToken: "R2"}, pair)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
}

func TestDo_SecondUnauthorizedExpiresSession(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "nope"})
	}
	f.refresh = rotateTokens("A2", "R2")

	hookCalls := 0
	store := loggedInStore(t)
	p := newTestPipeline(t, f, store, func(o *Options) { o.OnSessionExpired = func() { hookCalls++ } })

	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/users/me"}, nil)
	require.ErrorIs(t, err, ErrSessionExpired)

	assert.Equal(t, 1, f.count("/api/v1/auth/refresh"), "exactly one refresh")
	assert.Equal(t, 2, f.count("/api/v1/users/me"), "original plus one retry")
	assert.Equal(t, 0, hookCalls)

	_, ok := store.Access()
	assert.False(t, ok)
	_, ok = store.Refresh()
	assert.False(t, ok)
}

func TestDo_NoRefreshTokenIsUnauthorized(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
	}
	p := newTestPipeline(t, f, credentials.NewMemoryStore(), nil)

	err := p.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": "x"}}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "Incorrect email or password")
	assert.Equal(t, 0, f.count("/api/v1/auth/refresh"))
	assert.Len(t, f.recorded(), 1)
}

func TestDo_CredentialExchangeKeepsSessionOn401(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
	}

	var hookCalls atomic.Int32
	store := loggedInStore(t)
	before, _ := store.Pair()
	p := newTestPipeline(t, f, store, func(o *Options) {
		o.OnSessionExpired = func() { hookCalls.Add(1) }
	})

	err := p.Do(context.Background(), Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      map[string]string{"email": "a@b.c", "password": "wrong"},
		NoRefresh: true,
	}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, "Incorrect email or password", UserMessage(err))

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Auth)
	assert.Equal(t, 0, f.count("/api/v1/auth/refresh"))
	assert.Equal(t, int32(0), hookCalls.Load())

	after, ok := store.Pair()
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestDo_NilRawBodySendsNothing(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusNoContent)
	}
	p := newTestPipeline(t, f, credentials.NewMemoryStore(), nil)

	var body *RawBody
	require.NotPanics(t, func() {
		err := p.Do(context.Background(), Request{Method: http.MethodPost, Path: "/listings/L-1/publish", Body: body}, nil)
		require.NoError(t, err)
	})

	calls := f.recorded()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Body)
}

func TestDo_RefreshFailureClearsAndNotifies(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}
	f.refresh = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
	}

	var hookCalls atomic.Int32
	store := loggedInStore(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg)
	p := newTestPipeline(t, f, store, func(o *Options) {
		o.OnSessionExpired = func() { hookCalls.Add(1) }
		o.Metrics = m
	})

	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/favorites"}, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, 1, f.count("/api/v1/favorites"), "no retry after failed refresh")
	_, ok := store.Pair()
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))
}

func TestDo_RefreshResponseMissingTokens(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}
	f.refresh = rotateTokens("A2", "")

	store := loggedInStore(t)
	p := newTestPipeline(t, f, store, nil)

	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/users/me"}, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	_, ok := store.Access()
	assert.False(t, ok)
}

func TestDo_RefreshedCredentialUsedByLaterCalls(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
	f.refresh = rotateTokens("A2", "R2")
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	ctx := context.Background()
	require.NoError(t, p.Do(ctx, Request{Method: http.MethodGet, Path: "/a"}, nil))
	require.NoError(t, p.Do(ctx, Request{Method: http.MethodGet, Path: "/b"}, nil))

	calls := f.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "/api/v1/b", calls[3].Path)
	assert.Equal(t, "Bearer A2", calls[3].Auth)
	assert.Equal(t, 1, f.count("/api/v1/auth/refresh"))
}

func TestDo_ConcurrentUnauthorizedRefreshIndependently(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Header.Get("Authorization") == "Bearer A1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}

	var refreshes atomic.Int32
	release := make(chan struct{})
	f.refresh = func(w http.ResponseWriter, r *http.Request, body string) {
		if refreshes.Add(1) == 2 {
			close(release)
		}
		<-release
		rotateTokens("A2", "R2")(w, r, body)
	}
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/conversations"}, nil)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(2), refreshes.Load())
}

func TestDo_APIErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "detail string", status: 404, body: `{"detail":"Listing not found"}`, wantMsg: "Listing not found"},
		{name: "message field", status: 400, body: `{"message":"bad input"}`, wantMsg: "bad input"},
		{
			name:    "validation list",
			status:  422,
			body:    `{"detail":[{"loc":["body","price"],"msg":"field required"},{"loc":["body","title"],"msg":"too short"}]}`,
			wantMsg: "price: field required; title: too short",
		},
		{name: "not json", status: 502, body: `<html>bad gateway</html>`, wantMsg: "Bad Gateway"},
		{name: "json without message", status: 403, body: `{"error":true}`, wantMsg: "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeServer(t)
			f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}
			p := newTestPipeline(t, f, loggedInStore(t), nil)

			err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)

			status, ok := StatusOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, 0, f.count("/api/v1/auth/refresh"), "only 401 triggers refresh")
		})
	}
}

func TestDo_NoContentLeavesOutUntouched(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusOK} {
		f := newFakeServer(t)
		f.handle = func(w http.ResponseWriter, r *http.Request, body string) { w.WriteHeader(status) }
		p := newTestPipeline(t, f, loggedInStore(t), nil)

		out := map[string]string{"keep": "me"}
		require.NoError(t, p.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/favorites/L-1"}, &out))
		assert.Equal(t, map[string]string{"keep": "me"}, out)
	}
}

func TestDo_NetworkError(t *testing.T) {
	f := newFakeServer(t)
	f.srv.Close()
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/feed"}, nil)
	require.ErrorIs(t, err, ErrNetwork)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr)
}

func TestDo_ContextCanceledStaysMatchable(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) { w.WriteHeader(http.StatusOK) }
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, Request{Method: http.MethodGet, Path: "/feed"}, nil)
	require.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RawBody(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) { w.WriteHeader(http.StatusNoContent) }
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	err := p.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/upload",
		Body:   RawBody{Data: []byte("--boundary--"), ContentType: "multipart/form-data; boundary=boundary"},
	}, nil)
	require.NoError(t, err)

	c := f.recorded()[0]
	assert.Equal(t, "--boundary--", c.Body)
	assert.True(t, strings.HasPrefix(c.Header.Get("Content-Type"), "multipart/form-data"))
}

func TestDo_DecodeError(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":`))
	}
	p := newTestPipeline(t, f, loggedInStore(t), nil)

	var out map[string]any
	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestDo_SpanMarksRetry(t *testing.T) {
	f := newFakeServer(t)
	f.handle = func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
	f.refresh = rotateTokens("A2", "R2")

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newTestPipeline(t, f, loggedInStore(t), func(o *Options) { o.Tracer = tp.Tracer("test") })
	require.NoError(t, p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/users/me"}, nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /users/me", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.True(t, attrs["retried"].AsBool())
	assert.Equal(t, "/users/me", attrs["http.route"].AsString())
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(nil, Options{})
	require.Error(t, err)

	_, err = NewPipeline(credentials.NewMemoryStore(), Options{BaseURL: "not a url"})
	require.Error(t, err)

	p, err := NewPipeline(credentials.NewMemoryStore(), Options{BaseURL: "http://api.local/api/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/api/v1", p.BaseURL())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Contains(t, UserMessage(ErrSessionExpired), "log in again")
	assert.Equal(t, "You need to log in to do that.", UserMessage(ErrUnauthorized))
	assert.Equal(t, "Incorrect email or password", UserMessage(fmt.Errorf("login: %w: %s", ErrUnauthorized, "Incorrect email or password")))
	assert.Contains(t, UserMessage(errors.Join(ErrNetwork, errors.New("dial"))), "Cannot reach")
	assert.Equal(t, "Listing not found", UserMessage(&APIError{Status: 404, Message: "Listing not found"}))
	assert.Contains(t, UserMessage(&UploadStepError{Step: StepTransfer, Err: errors.New("403")}), "send the file")
}
