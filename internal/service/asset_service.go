package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/metrics"
	"github.com/iconidentify/clipdrop/internal/repository"
)

// Acquirer fetches the raw media for a submission.
type Acquirer interface {
	Acquire(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error)
}

// Transformer produces the playable files for acquired media.
type Transformer interface {
	Transform(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error)
}

// Visibility decides whose assets a viewer may see.
type Visibility interface {
	// VisibleOwners returns the owners whose assets viewerID may see.
	// A nil slice means no restriction.
	VisibleOwners(ctx context.Context, viewerID string) ([]string, error)
}

// EveryoneVisible lets every viewer see every asset.
type EveryoneVisible struct{}

// VisibleOwners returns nil, meaning unrestricted.
func (EveryoneVisible) VisibleOwners(ctx context.Context, viewerID string) ([]string, error) {
	return nil, nil
}

// IngestPolicy holds the submission rules.
type IngestPolicy struct {
	AllowedHosts     []string
	MaxMessageLength int
	Retention        time.Duration
}

// InterruptedMessage is the error recorded on assets abandoned by a previous process.
const InterruptedMessage = "interrupted"

// commitTimeout bounds the terminal write even after the run's context ended.
const commitTimeout = 10 * time.Second

// AssetService accepts submissions, drives them to a terminal state, and
// answers queries about them.
type AssetService struct {
	assets      repository.AssetRepository
	favorites   repository.FavoriteRepository
	jobs        repository.JobRepository
	acquirer    Acquirer
	transformer Transformer
	visibility  Visibility
	layout      Layout
	policy      IngestPolicy
	hosts       map[string]struct{}
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewAssetService creates a new asset service.
func NewAssetService(
	assets repository.AssetRepository,
	favorites repository.FavoriteRepository,
	jobs repository.JobRepository,
	acquirer Acquirer,
	transformer Transformer,
	visibility Visibility,
	layout Layout,
	policy IngestPolicy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AssetService {
	if visibility == nil {
		visibility = EveryoneVisible{}
	}
	hosts := make(map[string]struct{}, len(policy.AllowedHosts))
	for _, h := range policy.AllowedHosts {
		hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &AssetService{
		assets:      assets,
		favorites:   favorites,
		jobs:        jobs,
		acquirer:    acquirer,
		transformer: transformer,
		visibility:  visibility,
		layout:      layout,
		policy:      policy,
		hosts:       hosts,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// SubmitRequest represents a link submission.
type SubmitRequest struct {
	OwnerID   string
	SourceURL string
	Message   string
}

// SubmitResponse is returned as soon as the asset record exists.
type SubmitResponse struct {
	AssetID domain.AssetID
	JobID   domain.JobID
	Status  domain.AssetStatus
}

// Submit validates the request, creates a processing asset, and queues it.
// It never waits for acquisition or transformation.
func (s *AssetService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.ErrInvalidOwner
	}
	sourceURL, err := s.ValidateSourceURL(req.SourceURL)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(message) > s.policy.MaxMessageLength {
		return nil, fmt.Errorf("%w: at most %d characters", domain.ErrMessageTooLong, s.policy.MaxMessageLength)
	}

	id := newAssetID()
	asset := domain.NewAsset(id, req.OwnerID, sourceURL, message, s.now(), s.policy.Retention)
	if err := s.assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	jobID := domain.JobID("job_" + uuid.NewString())
	if err := s.jobs.Enqueue(ctx, domain.NewJob(jobID, id)); err != nil {
		s.commitFailed(ctx, id, fmt.Sprintf("enqueue: %v", err), s.logger.With("asset_id", id))
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("asset submitted",
		"asset_id", id,
		"job_id", jobID,
		"owner_id", req.OwnerID,
		"source_url", sourceURL,
	)

	return &SubmitResponse{
		AssetID: id,
		JobID:   jobID,
		Status:  domain.StatusProcessing,
	}, nil
}

// ValidateSourceURL checks the link against the host allow-list and returns it normalized.
func (s *AssetService) ValidateSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", fmt.Errorf("%w: not a URL", domain.ErrInvalidSourceURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidSourceURL, u.Scheme)
	}
	if _, ok := s.hosts[strings.ToLower(u.Hostname())]; !ok {
		return "", fmt.Errorf("%w: host %q is not supported", domain.ErrInvalidSourceURL, u.Hostname())
	}
	return u.String(), nil
}

// newAssetID returns 32 hex characters of randomness; ids appear in public URLs.
func newAssetID() domain.AssetID {
	return domain.AssetID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Process drives one asset from processing to ready or failed. Every error
// and panic past this point ends as a failed commit; the returned error is
// informational for the worker.
func (s *AssetService) Process(ctx context.Context, id domain.AssetID) error {
	logger := s.logger.With("asset_id", id)
	start := time.Now()

	asset, err := s.assets.Get(ctx, id)
	if errors.Is(err, domain.ErrAssetNotFound) {
		logger.Info("asset deleted before processing started")
		return nil
	}
	if err != nil {
		// The record could not be read; still try to leave it terminal.
		s.commitFailed(ctx, id, err.Error(), logger)
		return fmt.Errorf("get asset: %w", err)
	}
	if asset.Status != domain.StatusProcessing {
		logger.Info("asset already terminal, skipping", "status", asset.Status)
		return nil
	}

	logger.Info("processing asset", "source_url", asset.SourceURL)

	payload, source, runErr := s.runPipeline(ctx, asset, logger)
	if runErr == nil {
		runErr = verifyFiles(payload.Files())
	}
	if runErr != nil {
		s.layout.RemoveWorkDirs(id, logger)
		s.commitFailed(ctx, id, runErr.Error(), logger)
		s.metrics.IncIngest(string(domain.MediaKindPending), string(domain.StatusFailed))
		return domain.NewAssetError(id, "process", runErr)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	err = s.assets.CommitReady(commitCtx, id, payload, source, s.now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAssetNotFound):
		logger.Info("asset deleted while processing, discarding output")
		s.layout.RemoveWorkDirs(id, logger)
		return nil
	default:
		s.layout.RemoveWorkDirs(id, logger)
		s.commitFailed(ctx, id, err.Error(), logger)
		s.metrics.IncIngest(string(payload.Kind()), string(domain.StatusFailed))
		return domain.NewAssetError(id, "commit", err)
	}

	if err := removeDir(s.layout.ScratchDir(id)); err != nil {
		logger.Warn("failed to remove scratch dir", "error", err)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveStage(metrics.StageTotal, elapsed)
	s.metrics.IncIngest(string(payload.Kind()), string(domain.StatusReady))
	logger.Info("asset ready",
		"kind", payload.Kind(),
		"size_bytes", payload.SizeBytes(),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return nil
}

// runPipeline runs acquisition then transformation, converting panics into errors.
func (s *AssetService) runPipeline(ctx context.Context, asset *domain.Asset, logger *slog.Logger) (payload domain.Payload, source domain.SourceInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during processing", "panic", r, "stack", string(debug.Stack()))
			payload = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	stageStart := time.Now()
	acq, err := s.acquirer.Acquire(ctx, asset.ID, asset.SourceURL)
	s.metrics.ObserveStage(metrics.StageAcquire, time.Since(stageStart))
	if err != nil {
		return nil, source, err
	}
	source = acq.Source
	logger.Info("media acquired", "kind", acq.Kind, "provider", acq.Provider)

	stageStart = time.Now()
	payload, err = s.transformer.Transform(ctx, asset.ID, acq)
	s.metrics.ObserveStage(metrics.StageTransform, time.Since(stageStart))
	if err != nil {
		return nil, source, err
	}
	if payload == nil {
		return nil, source, fmt.Errorf("%w: no output produced", domain.ErrTransformFailed)
	}
	return payload, source, nil
}

// commitFailed records the failure, tolerating an asset that was deleted or
// already terminal meanwhile.
func (s *AssetService) commitFailed(ctx context.Context, id domain.AssetID, message string, logger *slog.Logger) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	err := s.assets.CommitFailed(commitCtx, id, message, s.now())
	switch {
	case err == nil:
		logger.Warn("asset failed", "error", message)
	case errors.Is(err, domain.ErrAssetNotFound), errors.Is(err, domain.ErrInvalidTransition):
		logger.Info("asset no longer processing, failure not recorded", "error", message)
	default:
		logger.Error("failed to record asset failure", "error", err, "cause", message)
	}
}

// RecoverInterrupted fails processing assets created before cutoff. It runs
// at startup, before any worker picks up new jobs.
func (s *AssetService) RecoverInterrupted(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.assets.FailStaleProcessing(ctx, cutoff, InterruptedMessage)
	for _, id := range ids {
		s.layout.RemoveWorkDirs(id, s.logger)
	}
	if len(ids) > 0 {
		s.logger.Warn("failed interrupted assets", "count", len(ids))
	}
	if err != nil {
		return len(ids), fmt.Errorf("recover interrupted assets: %w", err)
	}
	return len(ids), nil
}

// AssetView is an asset as seen by one requester.
type AssetView struct {
	Asset       *domain.Asset
	IsFavorited bool
	// Retained is true when any user keeps the asset from expiring.
	Retained bool
}

// ScheduledDeletionAt is when the reaper will remove the asset, or nil if it is kept.
func (v *AssetView) ScheduledDeletionAt() *time.Time {
	if v.Retained {
		return nil
	}
	t := v.Asset.ExpiresAt
	return &t
}

// ListOptions narrows a listing.
type ListOptions struct {
	Since time.Time
	Limit int
}

// List returns ready assets created after opts.Since that the requester may see.
func (s *AssetService) List(ctx context.Context, requester string, opts ListOptions) ([]*AssetView, error) {
	filter, err := s.readyFilter(ctx, requester, opts.Since)
	if err != nil {
		return nil, err
	}
	filter.Limit = opts.Limit

	assets, err := s.assets.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return s.decorate(ctx, requester, assets)
}

// CountNew returns how many visible ready assets were created after since.
func (s *AssetService) CountNew(ctx context.Context, requester string, since time.Time) (int, error) {
	filter, err := s.readyFilter(ctx, requester, since)
	if err != nil {
		return 0, err
	}
	n, err := s.assets.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return n, nil
}

func (s *AssetService) readyFilter(ctx context.Context, requester string, since time.Time) (repository.AssetFilter, error) {
	owners, err := s.visibility.VisibleOwners(ctx, requester)
	if err != nil {
		return repository.AssetFilter{}, fmt.Errorf("resolve visibility: %w", err)
	}
	if owners != nil {
		owners = append(owners, requester)
	}
	return repository.AssetFilter{
		Status:   domain.StatusReady,
		Since:    since,
		OwnerIDs: owners,
	}, nil
}

// Get returns one asset, in any status, if the requester may see it.
func (s *AssetService) Get(ctx context.Context, requester string, id domain.AssetID) (*AssetView, error) {
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkVisible(ctx, requester, asset); err != nil {
		return nil, err
	}

	views, err := s.decorate(ctx, requester, []*domain.Asset{asset})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// GetReady returns a ready asset for delivery. Asset ids are unguessable, so
// delivery does not check the requester.
func (s *AssetService) GetReady(ctx context.Context, id domain.AssetID) (*domain.Asset, error) {
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.Status != domain.StatusReady || asset.Payload == nil {
		return nil, domain.ErrNotReady
	}
	return asset, nil
}

func (s *AssetService) checkVisible(ctx context.Context, requester string, asset *domain.Asset) error {
	if asset.OwnerID == requester {
		return nil
	}
	owners, err := s.visibility.VisibleOwners(ctx, requester)
	if err != nil {
		return fmt.Errorf("resolve visibility: %w", err)
	}
	if owners == nil {
		return nil
	}
	for _, o := range owners {
		if o == asset.OwnerID {
			return nil
		}
	}
	return domain.ErrAssetNotFound
}

func (s *AssetService) decorate(ctx context.Context, requester string, assets []*domain.Asset) ([]*AssetView, error) {
	ids := make([]domain.AssetID, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	mine, err := s.favorites.FavoritedBy(ctx, requester, ids)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}

	views := make([]*AssetView, 0, len(assets))
	for _, a := range assets {
		v := &AssetView{Asset: a, IsFavorited: mine[a.ID]}
		if v.IsFavorited {
			v.Retained = true
		} else if v.Retained, err = s.favorites.IsRetained(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("load retention: %w", err)
		}
		views = append(views, v)
	}
	return views, nil
}

// Delete removes the requester's own asset and its files immediately.
// Deleting an asset that no longer exists succeeds.
func (s *AssetService) Delete(ctx context.Context, requester string, id domain.AssetID) error {
	asset, err := s.assets.Get(ctx, id)
	if errors.Is(err, domain.ErrAssetNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if asset.OwnerID != requester {
		return domain.ErrForbidden
	}

	removed, err := s.assets.Delete(ctx, id)
	if err != nil {
		return err
	}
	if removed {
		s.layout.RemoveAsset(asset, s.logger)
		s.logger.Info("asset deleted by owner", "asset_id", id, "owner_id", requester)
	}
	return nil
}

// Favorite keeps the asset from expiring for as long as the mark exists.
func (s *AssetService) Favorite(ctx context.Context, requester string, id domain.AssetID) (*AssetView, error) {
	view, err := s.Get(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if err := s.favorites.Add(ctx, requester, id); err != nil {
		return nil, err
	}
	view.IsFavorited = true
	view.Retained = true
	return view, nil
}

// Unfavorite removes the requester's mark.
func (s *AssetService) Unfavorite(ctx context.Context, requester string, id domain.AssetID) (*AssetView, error) {
	view, err := s.Get(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if err := s.favorites.Remove(ctx, requester, id); err != nil {
		return nil, err
	}
	retained, err := s.favorites.IsRetained(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load retention: %w", err)
	}
	view.IsFavorited = false
	view.Retained = retained
	return view, nil
}

// ListFavorites returns the ready assets the requester keeps.
func (s *AssetService) ListFavorites(ctx context.Context, requester string) ([]*AssetView, error) {
	assets, err := s.favorites.ListAssets(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	views := make([]*AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, &AssetView{Asset: a, IsFavorited: true, Retained: true})
	}
	return views, nil
}
