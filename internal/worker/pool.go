package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/repository"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Processor drives one asset to a terminal state.
type Processor interface {
	Process(ctx context.Context, id domain.AssetID) error
}

// Pool manages a pool of workers for processing ingestion jobs.
type Pool struct {
	workers      int
	pollInterval time.Duration
	jobRepo      repository.JobRepository
	processor    Processor
	logger       *slog.Logger

	wg sync.WaitGroup
	// ctx stops the polling loops; jobCtx is handed to running jobs and is
	// only cancelled when Stop gives up waiting.
	ctx       context.Context
	cancel    context.CancelFunc
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	jobRepo repository.JobRepository,
	processor Processor,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, cancelJob := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobRepo:      jobRepo,
		processor:    processor,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		jobCtx:       jobCtx,
		cancelJob:    cancelJob,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops taking new jobs and waits for running ones. Jobs still running
// when timeout elapses are cancelled and end as failed.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelJob()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.cancelJob()
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Info("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for p.ctx.Err() == nil && p.processNextJob(logger) {
			}
		}
	}
}

// processNextJob runs one job and reports whether one was available.
func (p *Pool) processNextJob(logger *slog.Logger) bool {
	job, err := p.jobRepo.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID, "asset_id", job.AssetID)
	logger.Info("processing job")

	job.MarkProcessing()
	if err := p.jobRepo.Update(p.jobCtx, job); err != nil {
		logger.Warn("failed to update job status", "error", err)
	}

	if err := p.runJob(job); err != nil {
		job.MarkFailed(err.Error())
		logger.Warn("job failed", "error", err)
	} else {
		job.MarkCompleted()
		logger.Info("job completed successfully")
	}

	if err := p.jobRepo.Update(p.jobCtx, job); err != nil {
		logger.Error("failed to record job result", "error", err)
	}
	return true
}

// runJob isolates the worker from panics in the processor.
func (p *Pool) runJob(job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in job",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processor.Process(p.jobCtx, job.AssetID)
}
