package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/tourai/internal/capability"
	"github.com/felipepmaragno/tourai/internal/domain"
)

// ContentGenerator is satisfied by *capability.Service.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, caller domain.Caller, req capability.ContentRequest) (capability.Content, error)
}

type WorkerConfig struct {
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
}

// Worker drains the job queue through the content capability. Jobs that
// hit a rate limit or a full provider outage are left undeleted so the
// queue redelivers them later; every other outcome produces a result.
type Worker struct {
	queue  Queue
	gen    ContentGenerator
	logger *slog.Logger
	cfg    WorkerConfig
	now    func() time.Time
}

func NewWorker(q Queue, gen ContentGenerator, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, gen: gen, logger: logger, cfg: cfg, now: time.Now}
}

// Run polls until ctx is done. Jobs already in progress finish before Run
// returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("content worker started", "concurrency", w.cfg.Concurrency)
	defer w.logger.Info("content worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := w.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("failed to receive jobs", "error", err)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Poll receives one batch and processes it. It returns the number of jobs
// received.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	jobs, err := w.queue.ReceiveJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(context.WithoutCancel(ctx), job)
		}()
	}
	wg.Wait()
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job ContentJob) {
	start := w.now()
	caller := domain.Caller{Scope: job.Scope, ID: job.CallerID}

	content, err := w.gen.GenerateContent(ctx, caller, job.Request)
	if err != nil && (errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrAllProvidersUnavailable)) {
		w.logger.Warn("content job deferred",
			"job_id", job.ID,
			"scope", job.Scope,
			"error", err,
		)
		return
	}

	result := ContentResult{JobID: job.ID, CallerID: job.CallerID, CompletedAt: w.now()}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Content = &content
	}

	if err := w.queue.SendResult(ctx, result); err != nil {
		w.logger.Error("failed to send job result", "job_id", job.ID, "error", err)
		return
	}
	if err := w.queue.DeleteJob(ctx, job); err != nil {
		w.logger.Error("failed to delete job", "job_id", job.ID, "error", err)
		return
	}

	w.logger.Info("content job completed",
		"job_id", job.ID,
		"scope", job.Scope,
		"failed", result.Error != "",
		"latency_ms", w.now().Sub(start).Milliseconds(),
	)
}
