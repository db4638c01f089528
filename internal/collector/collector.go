// Package collector runs configured jobs through a pool of fetch workers and
// a single store writer.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/extract"
	"github.com/JakeFAU/housedata-crawler/internal/metrics"
	"github.com/JakeFAU/housedata-crawler/internal/store"
)

// Job is one page to collect and the table its records are written to.
type Job struct {
	Name      string
	URL       string
	Table     string
	Extractor extract.Extractor
}

// Writer persists extracted records. *store.Store satisfies it.
type Writer interface {
	UpsertMany(ctx context.Context, table string, recs []store.Record) error
}

// FetcherFactory builds a Fetcher owned by a single worker.
type FetcherFactory func() (crawler.Fetcher, error)

// Summary reports what one run did.
type Summary struct {
	Pages          int `json:"pages"`
	Fetched        int `json:"fetched"`
	Failed         int `json:"failed"`
	RecordsWritten int `json:"records_written"`
	WriteFailures  int `json:"write_failures"`
}

// Config sizes the worker pool.
type Config struct {
	Workers int
}

// Runner fans jobs out to workers. Each worker owns its Fetcher; only the
// writer goroutine touches the store.
type Runner struct {
	workers    int
	newFetcher FetcherFactory
	writer     Writer
	logger     *zap.Logger
}

// New constructs a Runner. Workers defaults to 2.
func New(cfg Config, newFetcher FetcherFactory, writer Writer, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		workers:    cfg.Workers,
		newFetcher: newFetcher,
		writer:     writer,
		logger:     logger.Named("collector"),
	}
}

type pageResult struct {
	job     Job
	records []store.Record
	err     error
}

// Run processes every job once. It returns the first fetcher construction
// failure, or the context error when the run was interrupted.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	summary := Summary{Pages: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}
	if r.newFetcher == nil || r.writer == nil {
		return summary, errors.New("collector: fetcher factory and writer are required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(r.workers, len(jobs))
	queue := make(chan Job)
	results := make(chan pageResult, workers)

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case <-runCtx.Done():
				return
			case queue <- job:
			}
		}
	}()

	var (
		buildOnce sync.Once
		buildErr  error
		wg        sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := r.work(runCtx, id, queue, results); err != nil {
				buildOnce.Do(func() {
					buildErr = err
					cancel()
				})
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.write(runCtx, results, &summary)
	}()

	wg.Wait()
	close(results)
	<-done

	r.logger.Info("run finished",
		zap.Int("pages", summary.Pages),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.Failed),
		zap.Int("records_written", summary.RecordsWritten),
		zap.Int("write_failures", summary.WriteFailures),
	)

	if buildErr != nil {
		return summary, buildErr
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("collector run interrupted: %w", err)
	}
	return summary, nil
}

func (r *Runner) work(ctx context.Context, id int, queue <-chan Job, results chan<- pageResult) error {
	logger := r.logger.With(zap.Int("worker", id))
	f, err := r.newFetcher()
	if err != nil {
		return fmt.Errorf("worker %d: build fetcher: %w", id, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("close fetcher", zap.Error(cerr))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for job := range queue {
		res := r.process(ctx, f, job, logger)
		select {
		case results <- res:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, f crawler.Fetcher, job Job, logger *zap.Logger) pageResult {
	logger = logger.With(zap.String("job", job.Name), zap.String("url", job.URL))
	doc := f.Fetch(ctx, job.URL)
	if doc == nil {
		logger.Warn("page fetch failed")
		return pageResult{job: job, err: errors.New("fetch failed")}
	}
	if job.Extractor == nil {
		return pageResult{job: job, err: errors.New("no extractor configured")}
	}
	recs, err := job.Extractor.Extract(doc)
	if err != nil {
		logger.Warn("extract failed", zap.Error(err))
		return pageResult{job: job, err: fmt.Errorf("extract: %w", err)}
	}
	logger.Debug("page extracted", zap.Int("records", len(recs)))
	return pageResult{job: job, records: recs}
}

func (r *Runner) write(ctx context.Context, results <-chan pageResult, summary *Summary) {
	for res := range results {
		if res.err != nil {
			summary.Failed++
			continue
		}
		summary.Fetched++
		if len(res.records) == 0 {
			continue
		}
		if err := r.writer.UpsertMany(ctx, res.job.Table, res.records); err != nil {
			summary.WriteFailures++
			r.logger.Error("write records",
				zap.String("job", res.job.Name),
				zap.String("table", res.job.Table),
				zap.Error(err),
			)
			continue
		}
		summary.RecordsWritten += len(res.records)
	}
}
