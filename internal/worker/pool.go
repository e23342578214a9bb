// Package worker runs uploads off the webhook request path.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/gdrivebot/internal/export"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 4
	DefaultJobTimeout  = 10 * time.Minute
)

// Pool bounds the number of concurrently running jobs.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPool creates a Pool. Non-positive values select the defaults.
func NewPool(concurrency int, timeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Pool{sem: semaphore.NewWeighted(int64(concurrency)), timeout: timeout}
}

// Go runs fn on a free slot, waiting for one until ctx is done. fn gets a
// context detached from ctx's cancellation and bounded by the job timeout,
// so it outlives the request that started it.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		fn(jobCtx)
	}()
	return nil
}

// Wait blocks until every started job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Uploader performs one upload job.
type Uploader interface {
	Upload(ctx context.Context, job export.UploadJob) (export.UploadResult, error)
}

// Dispatcher hands upload jobs to a Pool.
type Dispatcher struct {
	pool     *Pool
	uploader Uploader
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(pool *Pool, uploader Uploader, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{pool: pool, uploader: uploader, logger: logger.With(slog.String("component", "worker"))}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job export.UploadJob) error {
	return d.pool.Go(ctx, func(ctx context.Context) {
		run(ctx, d.uploader, job, d.logger)
	})
}

// InlineDispatcher runs the upload before returning. Lambda freezes the
// process once the response is written, so background work cannot be used there.
type InlineDispatcher struct {
	uploader Uploader
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInlineDispatcher creates an InlineDispatcher.
func NewInlineDispatcher(uploader Uploader, timeout time.Duration, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &InlineDispatcher{uploader: uploader, timeout: timeout, logger: logger.With(slog.String("component", "worker"))}
}

// Dispatch does not report upload failures; they are recorded in the
// ledger and announced to the group by the uploader.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job export.UploadJob) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	run(ctx, d.uploader, job, d.logger)
	return nil
}

func run(ctx context.Context, uploader Uploader, job export.UploadJob, logger *slog.Logger) {
	start := time.Now()
	result, err := uploader.Upload(ctx, job)
	attrs := []any{
		slog.String("group_id", job.GroupID),
		slog.String("message_id", job.MessageID),
		slog.String("result", result.String()),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		logger.Error("upload job failed", append(attrs, slog.Any("error", err))...)
		return
	}
	logger.Debug("upload job finished", attrs...)
}
