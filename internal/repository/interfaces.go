package repository

import (
	"context"
	"time"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// AssetFilter narrows asset listings.
type AssetFilter struct {
	// Status limits results to one status when non-empty.
	Status domain.AssetStatus
	// Since keeps assets created strictly after this instant when non-zero.
	Since time.Time
	// OwnerIDs restricts results to these owners. Nil means no restriction.
	OwnerIDs []string
	Limit    int
}

// AssetRepository persists asset records.
type AssetRepository interface {
	// Create inserts a new processing asset.
	Create(ctx context.Context, asset *domain.Asset) error

	// Get retrieves an asset by ID.
	Get(ctx context.Context, id domain.AssetID) (*domain.Asset, error)

	// List returns assets matching the filter, newest first.
	List(ctx context.Context, filter AssetFilter) ([]*domain.Asset, error)

	// Count returns the number of assets matching the filter.
	Count(ctx context.Context, filter AssetFilter) (int, error)

	// CommitReady moves a processing asset to ready, setting the payload and
	// source metadata in one write.
	CommitReady(ctx context.Context, id domain.AssetID, payload domain.Payload, source domain.SourceInfo, at time.Time) error

	// CommitFailed moves a processing asset to failed with a message.
	CommitFailed(ctx context.Context, id domain.AssetID, message string, at time.Time) error

	// FailStaleProcessing fails every processing asset created before cutoff.
	FailStaleProcessing(ctx context.Context, cutoff time.Time, message string) ([]domain.AssetID, error)

	// ListExpired returns assets of any status whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Asset, error)

	// DeleteIfExpired removes the asset only if it is still expired and not
	// retained by any favorite. Reports whether a row was removed.
	DeleteIfExpired(ctx context.Context, id domain.AssetID, now time.Time) (bool, error)

	// Delete removes the asset unconditionally. Reports whether a row was removed.
	Delete(ctx context.Context, id domain.AssetID) (bool, error)
}

// FavoriteRepository stores the "keep forever" marks users put on assets.
type FavoriteRepository interface {
	// Add marks the asset as a favorite of the user. Adding twice is a no-op.
	Add(ctx context.Context, userID string, assetID domain.AssetID) error

	// Remove clears the mark. Removing a missing mark is a no-op.
	Remove(ctx context.Context, userID string, assetID domain.AssetID) error

	// IsFavorited reports whether the user marked the asset.
	IsFavorited(ctx context.Context, userID string, assetID domain.AssetID) (bool, error)

	// FavoritedBy returns which of the given assets the user marked.
	FavoritedBy(ctx context.Context, userID string, ids []domain.AssetID) (map[domain.AssetID]bool, error)

	// IsRetained reports whether anyone marked the asset.
	IsRetained(ctx context.Context, assetID domain.AssetID) (bool, error)

	// ListAssets returns the ready assets the user marked, newest mark first.
	ListAssets(ctx context.Context, userID string) ([]*domain.Asset, error)

	// ExemptAssetIDs returns every asset marked by at least one user.
	ExemptAssetIDs(ctx context.Context) (map[domain.AssetID]struct{}, error)
}

// JobRepository manages the job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next queued job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// GetByAssetID finds the job associated with an asset.
	GetByAssetID(ctx context.Context, assetID domain.AssetID) (*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int
	Processing int
	Completed  int
	Failed     int
}
