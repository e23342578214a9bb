// Package queue moves upload jobs through Redis with asynq, for deployments
// that run a separate worker process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jun/gdrivebot/internal/export"
)

const (
	// TypeUpload is enqueued for each attachment posted in a group.
	TypeUpload = "drive:upload"
	// QueueName is the asynq queue upload tasks are placed on.
	QueueName = "uploads"
)

// Enqueuer is the subset of *asynq.Client used by Dispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewUploadTask serializes job into an asynq task.
func NewUploadTask(job export.UploadJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeUpload, data), nil
}

// Dispatcher enqueues upload jobs.
type Dispatcher struct {
	client Enqueuer
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, logger: logger.With(slog.String("component", "queue"))}
}

// Dispatch enqueues job without asynq retries: a failed upload is recorded
// in the ledger and only a redelivered message tries again.
func (d *Dispatcher) Dispatch(ctx context.Context, job export.UploadJob) error {
	task, err := NewUploadTask(job)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Queue(QueueName))
	if err != nil {
		return fmt.Errorf("enqueue upload task: %w", err)
	}
	d.logger.Debug("upload enqueued",
		slog.String("task_id", info.ID),
		slog.String("group_id", job.GroupID),
		slog.String("message_id", job.MessageID),
	)
	return nil
}

// Uploader performs one upload job.
type Uploader interface {
	Upload(ctx context.Context, job export.UploadJob) (export.UploadResult, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	uploader Uploader
	logger   *slog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(uploader Uploader, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{uploader: uploader, logger: logger.With(slog.String("component", "queue"))}
}

// Handler registers the upload task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeUpload, p.HandleUpload)
	return mux
}

// HandleUpload runs one upload task.
func (p *Processor) HandleUpload(ctx context.Context, task *asynq.Task) error {
	var job export.UploadJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	result, err := p.uploader.Upload(ctx, job)
	if err != nil {
		p.logger.Error("upload task failed",
			slog.String("group_id", job.GroupID),
			slog.String("message_id", job.MessageID),
			slog.String("result", result.String()),
			slog.Any("error", err),
		)
		return err
	}
	p.logger.Info("upload task processed",
		slog.String("group_id", job.GroupID),
		slog.String("message_id", job.MessageID),
		slog.String("result", result.String()),
	)
	return nil
}
