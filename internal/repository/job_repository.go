package repository

import (
	"context"
	"sync"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
// Finished jobs are dropped from memory and only counted, so the map stays
// bounded by the number of in-flight submissions.
type InMemoryJobRepository struct {
	mu        sync.RWMutex
	jobs      map[domain.JobID]*domain.Job
	byAsset   map[domain.AssetID]domain.JobID
	queue     []domain.JobID // FIFO queue of pending job IDs
	completed int
	failed    int
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:    make(map[domain.JobID]*domain.Job),
		byAsset: make(map[domain.AssetID]domain.JobID),
		queue:   make([]domain.JobID, 0),
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.byAsset[job.AssetID] = job.ID
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next queued job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) > 0 {
		jobID := r.queue[0]
		r.queue = r.queue[1:]

		job, ok := r.jobs[jobID]
		if ok && job.Status == domain.JobStatusQueued {
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Update modifies job state.
func (r *InMemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}

	if job.IsDone() {
		switch job.Status {
		case domain.JobStatusCompleted:
			r.completed++
		case domain.JobStatusFailed:
			r.failed++
		}
		delete(r.jobs, job.ID)
		delete(r.byAsset, job.AssetID)
		return nil
	}

	r.jobs[job.ID] = job
	return nil
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// GetByAssetID finds the job associated with an asset.
func (r *InMemoryJobRepository) GetByAssetID(ctx context.Context, assetID domain.AssetID) (*domain.Job, error) {
	r.mu.RLock()
	jobID, ok := r.byAsset[assetID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return r.Get(ctx, jobID)
}

// Stats returns queue statistics.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{
		Completed: r.completed,
		Failed:    r.failed,
	}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		}
	}

	return stats, nil
}
