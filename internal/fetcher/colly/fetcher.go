// Package collyfetcher performs single upstream round trips using gocolly and
// maps transport outcomes onto the catalog failure taxonomy.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
)

// DefaultTimeout bounds a request when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Proxies are rotated round robin, one per request. Empty means direct
	// connections (still subject to the environment proxy settings).
	Proxies []string
}

// Request describes one upstream call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
	Cookies []*http.Cookie
	// Capture, when set, records the text of the first element matching this
	// CSS selector in an HTML response.
	Capture string
}

// Response is the successful result of a call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Captured holds the text of the Capture match; Found reports whether one matched.
	Captured string
	Found    bool
	Duration time.Duration
}

// Fetcher executes requests through a cloned Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	return NewWithTransport(cfg, newHTTPTransport())
}

// NewWithTransport builds a Fetcher over a caller-supplied transport. Proxy
// rotation requires an *http.Transport; any other transport is replaced.
func NewWithTransport(cfg Config, transport http.RoundTripper) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	// Session cookies are set per request; a shared jar would leak them across calls.
	c.DisableCookies()
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(transport)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if len(cfg.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxies: %w", err)
		}
		c.SetProxyFunc(switcher)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Do executes one request. Failures wrap catalog.ErrUnreachable,
// catalog.ErrNotFound or catalog.ErrInvalidResponse.
func (f *Fetcher) Do(ctx context.Context, req Request) (Response, error) {
	if req.URL == "" {
		return Response{}, fmt.Errorf("request url is required")
	}
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, req, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, req, &result, &fetchErr); err != nil {
		if ctx.Err() != nil {
			return Response{}, err
		}
		result.Duration = time.Since(start)
		return result, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, req Request, result *Response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	// The in-flight HTTP request is bound to ctx so cancellation aborts it.
	collector.Context = ctx
	f.configureCollectorHooks(collector, req, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, req Request, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
		result.Body = append([]byte(nil), r.Body...)
	})

	if req.Capture != "" {
		hooks.OnHTML(req.Capture, func(e *colly.HTMLElement) {
			if result.Found {
				return
			}
			result.Captured = e.Text
			result.Found = true
		})
	}

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	req Request,
	result *Response,
	fetchErr *error,
) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, req.URL, body, nil, nil)
	}()

	select {
	case <-ctx.Done():
		// Wait for the aborted request to unwind so no callback outlives Do.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			err = *fetchErr
		}
		if classified := classify(result.StatusCode, err); classified != nil {
			return fmt.Errorf("%s %s: %w", method, req.URL, classified)
		}
		return nil
	}
}

// classify maps a status code and transport error onto the failure taxonomy.
func classify(status int, err error) error {
	switch {
	case status == 0 && err != nil:
		return fmt.Errorf("%w: %w", catalog.ErrUnreachable, err)
	case status == 0:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: status %d", catalog.ErrNotFound, status)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", catalog.ErrUnreachable, status)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return fmt.Errorf("%w: status %d", catalog.ErrInvalidResponse, status)
	case err != nil:
		return fmt.Errorf("%w: %w", catalog.ErrUnreachable, err)
	default:
		return nil
	}
}

func copyHeaders(req Request, r *colly.Request) {
	if r.Headers == nil {
		h := http.Header{}
		r.Headers = &h
	}
	for key, values := range req.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if len(req.Cookies) > 0 {
		pairs := make([]string, 0, len(req.Cookies))
		for _, c := range req.Cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		r.Headers.Set("Cookie", strings.Join(pairs, "; "))
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
