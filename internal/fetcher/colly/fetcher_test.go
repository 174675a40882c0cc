package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

func newFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

type seenRequest struct {
	method      string
	body        string
	cookie      string
	contentType string
}

func TestDoPostsBodyWithCookies(t *testing.T) {
	t.Parallel()

	seen := make(chan seenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			method:      r.Method,
			body:        string(body),
			cookie:      r.Header.Get("Cookie"),
			contentType: r.Header.Get("Content-Type"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{UserAgent: "menuingest-test", Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/graphql",
		Body:    []byte(`{"query":"q"}`),
		Headers: http.Header{"Content-Type": {"application/json"}},
		Cookies: []*http.Cookie{{Name: "roo_guid", Value: "abc"}, {Name: "other", Value: "x"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"data":{}}`, string(resp.Body))

	got := <-seen
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, `{"query":"q"}`, got.body)
	require.Equal(t, "roo_guid=abc; other=x", got.cookie)
	require.Equal(t, "application/json", got.contentType)
}

func TestDoRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{Timeout: time.Second})
	for range 3 {
		_, err := f.Do(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), hits.Load())
}

func TestDoCapturesHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><script id="__NEXT_DATA__" type="application/json">{"a":1}</script></body></html>`))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{URL: srv.URL, Capture: "script#__NEXT_DATA__"})
	require.NoError(t, err)
	require.True(t, resp.Found)
	require.Equal(t, `{"a":1}`, resp.Captured)

	resp, err = f.Do(context.Background(), Request{URL: srv.URL, Capture: "script#missing"})
	require.NoError(t, err)
	require.False(t, resp.Found)
}

func TestDoMapsStatusToFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, catalog.ErrNotFound},
		{http.StatusInternalServerError, catalog.ErrUnreachable},
		{http.StatusBadGateway, catalog.ErrUnreachable},
		{http.StatusTooManyRequests, catalog.ErrUnreachable},
		{http.StatusBadRequest, catalog.ErrInvalidResponse},
		{http.StatusForbidden, catalog.ErrInvalidResponse},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		f := newFetcher(t, Config{Timeout: time.Second})
		resp, err := f.Do(context.Background(), Request{URL: srv.URL})
		srv.Close()
		require.ErrorIs(t, err, tc.want, "status %d", tc.status)
		require.Equal(t, tc.status, resp.StatusCode)
	}
}

func TestDoTimeoutIsUnreachable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := newFetcher(t, Config{Timeout: 50 * time.Millisecond})
	_, err := f.Do(context.Background(), Request{URL: srv.URL})
	require.ErrorIs(t, err, catalog.ErrUnreachable)
}

func TestDoConnectionRefusedIsUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newFetcher(t, Config{Timeout: time.Second})
	_, err := f.Do(context.Background(), Request{URL: url})
	require.ErrorIs(t, err, catalog.ErrUnreachable)
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFetcher(t, Config{Timeout: time.Second})
	_, err := f.Do(ctx, Request{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, catalog.ErrUnreachable)
}

func TestDoCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	arrived := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	f := newFetcher(t, Config{Timeout: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	start := time.Now()
	resp, err := f.Do(ctx, Request{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, resp.StatusCode)
	require.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not aborted after cancellation")
	}
}

func TestDoRotatesProxies(t *testing.T) {
	t.Parallel()

	newProxy := func(hits *atomic.Int32, hosts chan<- string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			hosts <- r.Host
			_, _ = w.Write([]byte(`{}`))
		}))
	}
	var first, second atomic.Int32
	hosts := make(chan string, 3)
	p1 := newProxy(&first, hosts)
	defer p1.Close()
	p2 := newProxy(&second, hosts)
	defer p2.Close()

	f := newFetcher(t, Config{Timeout: time.Second, Proxies: []string{p1.URL, p2.URL}})
	for range 3 {
		_, err := f.Do(context.Background(), Request{URL: "http://menus.invalid/graphql"})
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), first.Load())
	require.Equal(t, int32(1), second.Load())
	for range 3 {
		require.Equal(t, "menus.invalid", <-hosts)
	}
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Proxies: []string{"http://[::1"}})
	require.Error(t, err)
}

func TestDoRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := newFetcher(t, Config{}).Do(context.Background(), Request{})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.NoError(t, classify(http.StatusOK, nil))
	require.NoError(t, classify(0, nil))
	require.ErrorIs(t, classify(0, errors.New("dial tcp")), catalog.ErrUnreachable)
	require.ErrorIs(t, classify(http.StatusGone, nil), catalog.ErrNotFound)
	require.ErrorIs(t, classify(http.StatusMovedPermanently, nil), catalog.ErrInvalidResponse)
	require.ErrorIs(t, classify(http.StatusServiceUnavailable, errors.New("Service Unavailable")), catalog.ErrUnreachable)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newFetcher(t, Config{})
	req := Request{
		URL:     "https://example.com",
		Headers: http.Header{"Accept": {"application/json"}},
		Cookies: []*http.Cookie{{Name: "roo_guid", Value: "g"}},
		Capture: "script#__NEXT_DATA__",
	}
	var (
		result   Response
		fetchErr error
	)

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onHTML)
	require.NotNil(t, hooks.onError)
	require.Equal(t, "script#__NEXT_DATA__", hooks.selector)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "application/json", collyReq.Headers.Get("Accept"))
	require.Equal(t, "roo_guid=g", collyReq.Headers.Get("Cookie"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onHTML(&colly.HTMLElement{Text: "first"})
	hooks.onHTML(&colly.HTMLElement{Text: "second"})
	require.True(t, result.Found)
	require.Equal(t, "first", result.Captured)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.EqualError(t, fetchErr, "Bad Gateway")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onHTML     colly.HTMLCallback
	selector   string
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
