package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/downloader"
	"github.com/iconidentify/clipdrop/internal/metrics"
	"github.com/iconidentify/clipdrop/pkg/tiktok"
)

// MediaResolver turns a share link into downloadable media URLs.
type MediaResolver interface {
	Resolve(ctx context.Context, shareURL string) (*tiktok.Media, error)
}

// FallbackDownloader fetches a single video with an external tool.
type FallbackDownloader interface {
	Download(ctx context.Context, url, output string) error
}

// Scratch file names.
const (
	sourceVideoName   = "source.mp4"
	fallbackVideoName = "fallback.mp4"
	audioName         = "audio.mp3"
)

// Provider labels recorded on an Acquisition.
const (
	ProviderPrimary  = "primary"
	ProviderFallback = "fallback"
)

// MediaAcquirer fetches remote media, trying the metadata provider first and
// the fallback tool second. It writes only inside the asset's scratch directory.
type MediaAcquirer struct {
	resolver        MediaResolver
	files           downloader.Downloader
	fallback        FallbackDownloader
	layout          Layout
	parallelism     int
	fallbackTimeout time.Duration
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewMediaAcquirer creates a new acquirer.
func NewMediaAcquirer(
	resolver MediaResolver,
	files downloader.Downloader,
	fallback FallbackDownloader,
	layout Layout,
	parallelism int,
	fallbackTimeout time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MediaAcquirer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &MediaAcquirer{
		resolver:        resolver,
		files:           files,
		fallback:        fallback,
		layout:          layout,
		parallelism:     parallelism,
		fallbackTimeout: fallbackTimeout,
		metrics:         m,
		logger:          logger,
	}
}

// Acquire downloads the media behind sourceURL. Nothing is retried; when both
// paths fail the scratch directory is removed and the fallback's error is returned.
func (a *MediaAcquirer) Acquire(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error) {
	logger := a.logger.With("asset_id", id)
	scratch := a.layout.ScratchDir(id)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", domain.ErrAcquisitionFailed, err)
	}

	acq, err := a.acquirePrimary(ctx, scratch, sourceURL, logger)
	if err == nil {
		return acq, nil
	}
	logger.Warn("primary provider failed, trying fallback", "error", err)

	acq, err = a.acquireFallback(ctx, scratch, sourceURL)
	a.metrics.IncFallback(err == nil)
	if err == nil {
		logger.Info("fallback downloader succeeded")
		return acq, nil
	}

	if rmErr := os.RemoveAll(scratch); rmErr != nil {
		logger.Warn("failed to clean scratch dir", "path", scratch, "error", rmErr)
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrAcquisitionFailed, err)
}

func (a *MediaAcquirer) acquirePrimary(ctx context.Context, scratch, sourceURL string, logger *slog.Logger) (*domain.Acquisition, error) {
	media, err := a.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	source := domain.SourceInfo{Author: media.Author, Caption: media.Caption}

	if media.IsSlideshow() {
		images := a.downloadImages(ctx, scratch, media.ImageURLs, logger)
		if len(images) == 0 {
			return nil, fmt.Errorf("all %d slideshow images failed to download", len(media.ImageURLs))
		}

		var audio string
		if media.AudioURL != "" {
			dest := filepath.Join(scratch, audioName)
			if _, err := a.files.DownloadToFile(ctx, media.AudioURL, dest); err != nil {
				logger.Warn("slideshow audio download failed, continuing without audio", "error", err)
			} else {
				audio = dest
			}
		}

		logger.Info("slideshow acquired",
			"images", len(images),
			"images_requested", len(media.ImageURLs),
			"has_audio", audio != "",
		)
		return &domain.Acquisition{
			Kind:       domain.MediaKindSlideshow,
			ImagePaths: images,
			AudioPath:  audio,
			Source:     source,
			Provider:   ProviderPrimary,
		}, nil
	}

	dest := filepath.Join(scratch, sourceVideoName)
	n, err := a.files.DownloadToFile(ctx, media.VideoURL, dest)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}

	logger.Info("video acquired", "bytes", n)
	return &domain.Acquisition{
		Kind:      domain.MediaKindVideo,
		VideoPath: dest,
		Source:    source,
		Provider:  ProviderPrimary,
	}, nil
}

// downloadImages fetches every image with bounded parallelism. Failed images
// are dropped; the rest keep their original order.
func (a *MediaAcquirer) downloadImages(ctx context.Context, scratch string, urls []string, logger *slog.Logger) []string {
	results := make([]string, len(urls))

	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for i, u := range urls {
		g.Go(func() error {
			dest := filepath.Join(scratch, fmt.Sprintf("image_%d%s", i, imageExt(u)))
			if _, err := a.files.DownloadToFile(ctx, u, dest); err != nil {
				logger.Warn("slideshow image download failed", "index", i, "error", err)
				return nil
			}
			results[i] = dest
			return nil
		})
	}
	_ = g.Wait()

	images := make([]string, 0, len(results))
	for _, p := range results {
		if p != "" {
			images = append(images, p)
		}
	}
	return images
}

func (a *MediaAcquirer) acquireFallback(ctx context.Context, scratch, sourceURL string) (*domain.Acquisition, error) {
	if a.fallbackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.fallbackTimeout)
		defer cancel()
	}

	dest := filepath.Join(scratch, fallbackVideoName)
	if err := a.fallback.Download(ctx, sourceURL, dest); err != nil {
		return nil, err
	}

	return &domain.Acquisition{
		Kind:      domain.MediaKindVideo,
		VideoPath: dest,
		Provider:  ProviderFallback,
	}, nil
}

// imageExt picks a file extension from the image URL, defaulting to .jpg.
func imageExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".jpg"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
		return ext
	default:
		return ".jpg"
	}
}
