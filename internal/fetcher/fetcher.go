// Package fetcher selects the fetch strategy named by configuration.
package fetcher

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/housedata-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/housedata-crawler/internal/fetcher/headless"
)

// New builds the Fetcher for cfg.Mode.
func New(cfg crawler.FetcherConfig, logger *zap.Logger) (crawler.Fetcher, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Mode {
	case crawler.ModeHTTP:
		f, err := collyfetcher.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build http fetcher: %w", err)
		}
		return f, nil
	case crawler.ModeBrowser:
		f, err := headless.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build browser fetcher: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Mode)
	}
}
