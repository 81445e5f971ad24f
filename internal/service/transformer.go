package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/pkg/ffmpeg"
)

// MediaProcessor is the transcoding capability used for videos.
type MediaProcessor interface {
	Transcode(ctx context.Context, input, output string) error
	ExtractThumbnail(ctx context.Context, input, output string) error
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Output file names inside an asset directory.
const (
	videoName     = "video.mp4"
	thumbnailName = "thumb.jpg"
)

// MediaTransformer turns acquired media into the files served to readers.
type MediaTransformer struct {
	proc             MediaProcessor
	layout           Layout
	transcodeTimeout time.Duration
	probeTimeout     time.Duration
	logger           *slog.Logger
}

// NewMediaTransformer creates a new transformer.
func NewMediaTransformer(proc MediaProcessor, layout Layout, transcodeTimeout, probeTimeout time.Duration, logger *slog.Logger) *MediaTransformer {
	return &MediaTransformer{
		proc:             proc,
		layout:           layout,
		transcodeTimeout: transcodeTimeout,
		probeTimeout:     probeTimeout,
		logger:           logger,
	}
}

// Transform dispatches on the acquired media kind.
func (t *MediaTransformer) Transform(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error) {
	switch acq.Kind {
	case domain.MediaKindVideo:
		return t.Transcode(ctx, id, acq.VideoPath)
	case domain.MediaKindSlideshow:
		return t.Assemble(ctx, id, acq.ImagePaths, acq.AudioPath)
	default:
		return nil, fmt.Errorf("%w: unknown media kind %q", domain.ErrTransformFailed, acq.Kind)
	}
}

// Transcode re-encodes input into the asset directory, then extracts a
// thumbnail and probes the duration. Only the encode itself is fatal.
func (t *MediaTransformer) Transcode(ctx context.Context, id domain.AssetID, input string) (*domain.VideoPayload, error) {
	logger := t.logger.With("asset_id", id)

	dir := t.layout.AssetDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create asset dir: %v", domain.ErrTransformFailed, err)
	}

	output := filepath.Join(dir, videoName)
	tctx, cancel := withTimeout(ctx, t.transcodeTimeout)
	err := t.proc.Transcode(tctx, input, output)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: transcode: %v", domain.ErrTransformFailed, err)
	}

	if err := os.Remove(input); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove transcode input", "path", input, "error", err)
	}

	payload := &domain.VideoPayload{Path: output}

	thumb := filepath.Join(dir, thumbnailName)
	tctx, cancel = withTimeout(ctx, t.probeTimeout)
	err = t.proc.ExtractThumbnail(tctx, output, thumb)
	cancel()
	if err != nil {
		logger.Warn("thumbnail extraction failed", "error", err)
	} else {
		payload.ThumbnailPath = thumb
	}

	tctx, cancel = withTimeout(ctx, t.probeTimeout)
	info, err := t.proc.Probe(tctx, output)
	cancel()
	if err != nil {
		logger.Warn("duration probe failed", "error", err)
	} else {
		payload.DurationSeconds = info.DurationSeconds()
	}

	size, err := fileSize(output)
	if err != nil {
		return nil, fmt.Errorf("%w: stat output: %v", domain.ErrTransformFailed, err)
	}
	payload.FileSizeBytes = size

	logger.Info("video transcoded",
		"duration_seconds", payload.DurationSeconds,
		"size_bytes", size,
		"has_thumbnail", payload.ThumbnailPath != "",
	)
	return payload, nil
}

// Assemble moves slideshow images and audio into the asset directory without
// re-encoding. The first image doubles as the thumbnail.
func (t *MediaTransformer) Assemble(ctx context.Context, id domain.AssetID, images []string, audio string) (*domain.SlideshowPayload, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransformFailed, domain.ErrNoImages)
	}

	dir := t.layout.AssetDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create asset dir: %v", domain.ErrTransformFailed, err)
	}

	payload := &domain.SlideshowPayload{ImagePaths: make([]string, 0, len(images))}
	for i, src := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransformFailed, err)
		}
		dst := filepath.Join(dir, fmt.Sprintf("image_%d%s", i, filepath.Ext(src)))
		if err := moveFile(src, dst); err != nil {
			return nil, fmt.Errorf("%w: move image %d: %v", domain.ErrTransformFailed, i, err)
		}
		size, err := fileSize(dst)
		if err != nil {
			return nil, fmt.Errorf("%w: stat image %d: %v", domain.ErrTransformFailed, i, err)
		}
		payload.ImagePaths = append(payload.ImagePaths, dst)
		payload.TotalSizeBytes += size
	}

	if audio != "" {
		dst := filepath.Join(dir, "audio"+filepath.Ext(audio))
		if err := moveFile(audio, dst); err != nil {
			return nil, fmt.Errorf("%w: move audio: %v", domain.ErrTransformFailed, err)
		}
		size, err := fileSize(dst)
		if err != nil {
			return nil, fmt.Errorf("%w: stat audio: %v", domain.ErrTransformFailed, err)
		}
		payload.AudioPath = dst
		payload.TotalSizeBytes += size
	}

	payload.ThumbnailPath = payload.ImagePaths[0]
	return payload, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
