// Package headless contains the browser fetch strategy, driving Chrome through
// chromedp.
package headless

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/document"
	"github.com/JakeFAU/housedata-crawler/internal/logging"
	"github.com/JakeFAU/housedata-crawler/internal/metrics"
)

const mode = string(crawler.ModeBrowser)

// Fetcher implements crawler.Fetcher using one Chrome instance. Each Fetch
// opens a tab in that browser; the browser lives until Close.
type Fetcher struct {
	cfg    crawler.FetcherConfig
	logger *zap.Logger

	browser       context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// New launches the browser. A browser that cannot be started is a
// construction error.
func New(cfg crawler.FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("browser_fetcher"),
		browser:       browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func allocatorOptions(cfg crawler.FetcherConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	return opts
}

// UserAgent reports the user agent the browser presents.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Fetch loads rawURL in a new tab and parses the rendered DOM. It returns nil
// once the retry policy gives up.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *document.Document {
	logger := f.logger.With(zap.String("url", rawURL))
	doc, _ := logging.TraceValue(logger, "headless.Fetcher.Fetch", func() (*document.Document, error) {
		html, ok := crawler.Retry(ctx, f.cfg.Retry, logger, func(ctx context.Context, _ int) (string, error) {
			return f.render(ctx, rawURL)
		})
		metrics.ObserveFetchResult(mode, ok)
		if !ok {
			return nil, fmt.Errorf("render %s after %d attempts: %w", rawURL, f.cfg.Retry.MaxAttempts, crawler.ErrRetriesExhausted)
		}
		return document.Parse([]byte(html))
	})
	return doc
}

// Post is not available in a browser session.
func (f *Fetcher) Post(_ context.Context, req crawler.PostRequest) (*crawler.Response, error) {
	logger := f.logger.With(zap.String("url", req.URL))
	return logging.TraceValue(logger, "headless.Fetcher.Post", func() (*crawler.Response, error) {
		return nil, fmt.Errorf("browser post %s: %w", req.URL, crawler.ErrUnsupported)
	})
}

// Close shuts down the browser and its allocator. Later calls do nothing.
func (f *Fetcher) Close() error {
	return logging.Trace(f.logger, "headless.Fetcher.Close", func() error {
		f.closeOnce.Do(func() {
			if f.browserCancel != nil {
				f.browserCancel()
			}
			if f.allocCancel != nil {
				f.allocCancel()
			}
		})
		return nil
	})
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var html string
	err := chromedp.Run(tabCtx,
		f.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeError, 0)
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if html == "" {
		metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeEmpty, 0)
		return "", crawler.ErrEmptyContent
	}
	f.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("status", meta.statusCode()),
		zap.Int("bytes", len(html)),
	)
	metrics.ObserveFetchAttempt(mode, rawURL, metrics.OutcomeSuccess, len(html))
	return html, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// responseMeta keeps the status of the main document response.
type responseMeta struct {
	mu     sync.Mutex
	status int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) statusCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

var _ crawler.Fetcher = (*Fetcher)(nil)
