// Package collyfetcher implements the HTTP fetch strategy: GET through
// gocolly and JSON POST through resty, sharing one transport.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/document"
	"github.com/JakeFAU/housedata-crawler/internal/logging"
	"github.com/JakeFAU/housedata-crawler/internal/metrics"
)

const mode = string(crawler.ModeHTTP)

// Fetcher implements crawler.Fetcher over plain HTTP.
type Fetcher struct {
	cfg           crawler.FetcherConfig
	logger        *zap.Logger
	transport     *http.Transport
	baseCollector *colly.Collector
	client        *resty.Client
	closeOnce     sync.Once
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is filled by the collector callbacks of a single visit.
type attemptResult struct {
	statusCode int
	body       []byte
	err        error
}

// New builds a Fetcher. An unparsable proxy URL is a construction error.
func New(cfg crawler.FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	transport, err := newHTTPTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	var roundTripper http.RoundTripper = transport
	if cfg.CloudflareBypass {
		roundTripper = cloudflarebp.AddCloudFlareByPass(roundTripper)
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.WithTransport(roundTripper)
	c.SetRequestTimeout(cfg.Timeout)

	client := resty.New().
		SetTransport(roundTripper).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("http_fetcher"),
		transport:     transport,
		baseCollector: c,
		client:        client,
	}, nil
}

// UserAgent reports the header value sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Fetch downloads rawURL and parses it. Any status is accepted as long as the
// body is non-empty; nil is returned once the retry policy gives up.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *document.Document {
	logger := f.logger.With(zap.String("url", rawURL))
	doc, _ := logging.TraceValue(logger, "collyfetcher.Fetcher.Fetch", func() (*document.Document, error) {
		body, ok := crawler.Retry(ctx, f.cfg.Retry, logger, func(ctx context.Context, _ int) ([]byte, error) {
			return f.get(ctx, rawURL)
		})
		metrics.ObserveFetchResult(mode, ok)
		if !ok {
			return nil, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, f.cfg.Retry.MaxAttempts, crawler.ErrRetriesExhausted)
		}
		return document.Parse(body)
	})
	return doc
}

// Post sends req as JSON. Non-2xx statuses count as failed attempts; once
// they are used up the response is nil with a nil error.
func (f *Fetcher) Post(ctx context.Context, req crawler.PostRequest) (*crawler.Response, error) {
	logger := f.logger.With(zap.String("url", req.URL))
	resp, err := logging.TraceValue(logger, "collyfetcher.Fetcher.Post", func() (*crawler.Response, error) {
		resp, ok := crawler.Retry(ctx, f.cfg.Retry, logger, func(ctx context.Context, _ int) (*crawler.Response, error) {
			return f.post(ctx, req)
		})
		metrics.ObserveFetchResult(mode, ok)
		if !ok {
			return nil, fmt.Errorf("post %s after %d attempts: %w", req.URL, f.cfg.Retry.MaxAttempts, crawler.ErrRetriesExhausted)
		}
		return resp, nil
	})
	if errors.Is(err, crawler.ErrRetriesExhausted) {
		return nil, nil
	}
	return resp, err
}

// Close drops idle connections held by the shared transport.
func (f *Fetcher) Close() error {
	return logging.Trace(f.logger, "collyfetcher.Fetcher.Close", func() error {
		f.closeOnce.Do(f.transport.CloseIdleConnections)
		return nil
	})
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	var result attemptResult
	collector := f.buildCollector(ctx, &result)

	if err := collector.Visit(rawURL); err != nil && result.err == nil {
		result.err = err
	}
	switch {
	case result.err != nil && len(result.body) == 0:
		metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeError, 0)
		return nil, fmt.Errorf("colly visit failed: %w", result.err)
	case len(result.body) == 0:
		metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeEmpty, 0)
		return nil, crawler.ErrEmptyContent
	}
	metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeSuccess, len(result.body))
	return result.body, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *attemptResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *attemptResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.statusCode = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.statusCode = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) post(ctx context.Context, req crawler.PostRequest) (*crawler.Response, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(req.Headers).
		SetBody(req.Payload()).
		Post(req.URL)
	if err != nil {
		metrics.ObserveFetchAttempt(mode, req.URL, metrics.OutcomeError, 0)
		return nil, fmt.Errorf("post request failed: %w", err)
	}
	if !resp.IsSuccess() {
		metrics.ObserveFetchAttempt(mode, req.URL, metrics.OutcomeError, 0)
		return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode()}
	}
	metrics.ObserveFetchAttempt(mode, req.URL, metrics.OutcomeSuccess, len(resp.Body()))
	return &crawler.Response{
		URL:        req.URL,
		StatusCode: resp.StatusCode(),
		Header:     resp.Header().Clone(),
		Body:       resp.Body(),
	}, nil
}

// StatusError reports a POST answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("post %s: unexpected status %d", e.URL, e.StatusCode)
}

func newHTTPTransport(proxy string) (*http.Transport, error) {
	t := &http.Transport{
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
	if proxy == "" {
		return t, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if proxyURL.Scheme == "" || proxyURL.Host == "" {
		return nil, errors.New("parse proxy url: scheme and host are required")
	}
	t.Proxy = http.ProxyURL(proxyURL)
	return t, nil
}

var _ crawler.Fetcher = (*Fetcher)(nil)
