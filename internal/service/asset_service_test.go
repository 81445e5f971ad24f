package service

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/pkg/tiktok"
)

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{"missing owner", SubmitRequest{SourceURL: shareURL}, domain.ErrInvalidOwner},
		{"empty url", SubmitRequest{OwnerID: "u1"}, domain.ErrInvalidSourceURL},
		{"foreign host", SubmitRequest{OwnerID: "u1", SourceURL: "https://youtube.com/watch?v=1"}, domain.ErrInvalidSourceURL},
		{"lookalike host", SubmitRequest{OwnerID: "u1", SourceURL: "https://tiktok.com.evil.example/v/1"}, domain.ErrInvalidSourceURL},
		{"bad scheme", SubmitRequest{OwnerID: "u1", SourceURL: "ftp://www.tiktok.com/v/1"}, domain.ErrInvalidSourceURL},
		{"long message", SubmitRequest{OwnerID: "u1", SourceURL: shareURL, Message: strings.Repeat("x", 31)}, domain.ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Submit(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, domain.IsValidationError(err))
		})
	}

	stats, err := env.jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Queued)
}

func TestSubmit_CreatesProcessingAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.service.Submit(ctx, SubmitRequest{
		OwnerID:   "u1",
		SourceURL: "https://vm.tiktok.com/ZMabc123/",
		Message:   "  " + strings.Repeat("é", 30) + "  ",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessing, resp.Status)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), resp.AssetID.String())

	asset, err := env.assets.Get(ctx, resp.AssetID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, asset.Status)
	assert.Equal(t, "u1", asset.OwnerID)
	assert.Equal(t, strings.Repeat("é", 30), asset.UserMessage)
	assert.WithinDuration(t, asset.CreatedAt.Add(7*24*time.Hour), asset.ExpiresAt, time.Second)

	job, err := env.jobs.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.AssetID, job.AssetID)
	assert.Equal(t, resp.JobID, job.ID)
}

func TestProcess_VideoReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolver.media = &tiktok.Media{VideoURL: "https://cdn.example/v.mp4", Author: "someone", Caption: "hi"}
	env.files.bodies["https://cdn.example/v.mp4"] = "raw-video"

	id := env.submit(t, "u1", shareURL)
	require.NoError(t, env.service.Process(ctx, id))

	asset, err := env.assets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, asset.Status)
	assert.Equal(t, domain.MediaKindVideo, asset.Kind())
	assert.Equal(t, "someone", asset.Source.Author)
	require.NotNil(t, asset.CompletedAt)

	video, ok := asset.Video()
	require.True(t, ok)
	assert.Equal(t, 12, video.DurationSeconds)
	assert.NotEmpty(t, video.ThumbnailPath)
	assert.NoError(t, verifyFiles(asset.Files()))

	assert.Empty(t, dirEntries(t, env.layout.ScratchDir(id)), "scratch dir should be gone")
}

func TestProcess_SlideshowPartialImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	urls := imageURLs(5)
	env.resolver.media = &tiktok.Media{ImageURLs: urls}
	env.files.bodies[urls[0]] = "a"
	env.files.bodies[urls[2]] = "b"
	env.files.bodies[urls[4]] = "c"

	id := env.submit(t, "u1", shareURL)
	require.NoError(t, env.service.Process(ctx, id))

	asset, err := env.assets.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReady, asset.Status)

	show, ok := asset.Slideshow()
	require.True(t, ok)
	assert.Len(t, show.ImagePaths, 3)
	assert.Equal(t, show.ImagePaths[0], show.ThumbnailPath)
	assert.Empty(t, show.AudioPath)
	assert.Equal(t, int64(3), show.TotalSizeBytes)
}

func TestProcess_TotalFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolver.err = errors.New("provider returned code -1")

	id := env.submit(t, "u1", shareURL)
	err := env.service.Process(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAcquisitionFailed)

	asset, err := env.assets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, asset.Status)
	assert.Contains(t, asset.ErrorMessage, "Unsupported URL")
	assert.Nil(t, asset.Payload)
	assert.Empty(t, dirEntries(t, env.layout.TempPath))
	assert.Empty(t, dirEntries(t, env.layout.BasePath))
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.withPipeline(
		acquirerFunc(func(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error) {
			panic("boom")
		}),
		nil,
	)

	id := env.submit(t, "u1", shareURL)
	err := env.service.Process(ctx, id)
	require.Error(t, err)

	asset, err := env.assets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, asset.Status)
	assert.Equal(t, "internal error: boom", asset.ErrorMessage)
}

func TestProcess_MissingOutputFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.withPipeline(
		acquirerFunc(func(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error) {
			return &domain.Acquisition{Kind: domain.MediaKindVideo}, nil
		}),
		transformerFunc(func(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error) {
			return &domain.VideoPayload{Path: "/nonexistent/video.mp4"}, nil
		}),
	)

	id := env.submit(t, "u1", shareURL)
	err := env.service.Process(ctx, id)
	assert.ErrorIs(t, err, domain.ErrFileMissing)

	asset, err := env.assets.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, asset.Status)
}

func TestProcess_DeletedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolver.media = &tiktok.Media{VideoURL: "https://cdn.example/v.mp4"}
	env.files.bodies["https://cdn.example/v.mp4"] = "raw-video"

	inner := env.service.transformer
	env.withPipeline(env.service.acquirer,
		transformerFunc(func(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error) {
			payload, err := inner.Transform(ctx, id, acq)
			if err != nil {
				return nil, err
			}
			_, err = env.assets.Delete(ctx, id)
			return payload, err
		}),
	)

	id := env.submit(t, "u1", shareURL)
	require.NoError(t, env.service.Process(ctx, id))

	_, err := env.assets.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	assert.Empty(t, dirEntries(t, env.layout.BasePath))
	assert.Empty(t, dirEntries(t, env.layout.TempPath))
}

func TestProcess_SkipsTerminalAndMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolver.err = errors.New("down")

	id := env.submit(t, "u1", shareURL)
	require.Error(t, env.service.Process(ctx, id))
	calls := env.resolver.calls

	require.NoError(t, env.service.Process(ctx, id))
	assert.Equal(t, calls, env.resolver.calls, "terminal asset must not be reprocessed")

	require.NoError(t, env.service.Process(ctx, "does-not-exist"))
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := env.submit(t, "u1", shareURL)
	require.NoError(t, os.MkdirAll(env.layout.ScratchDir(stale), 0755))

	n, err := env.service.RecoverInterrupted(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	asset, err := env.assets.Get(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, asset.Status)
	assert.Equal(t, InterruptedMessage, asset.ErrorMessage)
	assert.Empty(t, dirEntries(t, env.layout.TempPath))

	fresh := env.submit(t, "u1", shareURL)
	n, err = env.service.RecoverInterrupted(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	asset, err = env.assets.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, asset.Status)
}

func readyAsset(t *testing.T, env *testEnv, owner string) domain.AssetID {
	t.Helper()
	env.resolver.media = &tiktok.Media{VideoURL: "https://cdn.example/v.mp4"}
	env.files.bodies["https://cdn.example/v.mp4"] = "raw-video"
	id := env.submit(t, owner, shareURL)
	require.NoError(t, env.service.Process(context.Background(), id))
	return id
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := readyAsset(t, env, "owner")

	err := env.service.Delete(ctx, "intruder", id)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, env.service.Delete(ctx, "owner", id))
	_, err = env.assets.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	assert.Empty(t, dirEntries(t, env.layout.BasePath))

	assert.NoError(t, env.service.Delete(ctx, "owner", id), "second delete is a no-op")
}

func TestFavorites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := readyAsset(t, env, "owner")

	view, err := env.service.Favorite(ctx, "fan", id)
	require.NoError(t, err)
	assert.True(t, view.IsFavorited)
	assert.Nil(t, view.ScheduledDeletionAt())

	_, err = env.service.Favorite(ctx, "fan", id)
	require.NoError(t, err, "favoriting twice is idempotent")

	// Another user's favorite still keeps it for the owner.
	got, err := env.service.Get(ctx, "owner", id)
	require.NoError(t, err)
	assert.False(t, got.IsFavorited)
	assert.True(t, got.Retained)

	favs, err := env.service.ListFavorites(ctx, "fan")
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, id, favs[0].Asset.ID)

	view, err = env.service.Unfavorite(ctx, "fan", id)
	require.NoError(t, err)
	assert.False(t, view.IsFavorited)
	require.NotNil(t, view.ScheduledDeletionAt())
	assert.Equal(t, view.Asset.ExpiresAt, *view.ScheduledDeletionAt())

	_, err = env.service.Favorite(ctx, "fan", "missing")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestListAndCountNew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	ready := readyAsset(t, env, "u1")
	env.submit(t, "u2", shareURL) // still processing

	views, err := env.service.List(ctx, "u2", ListOptions{Since: since})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, ready, views[0].Asset.ID)

	n, err := env.service.CountNew(ctx, "u2", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.service.CountNew(ctx, "u2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fixedVisibility map[string][]string

func (f fixedVisibility) VisibleOwners(ctx context.Context, viewerID string) ([]string, error) {
	owners, ok := f[viewerID]
	if !ok {
		return []string{}, nil
	}
	return owners, nil
}

func TestVisibilityRestrictsListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mine := readyAsset(t, env, "alice")
	theirs := readyAsset(t, env, "bob")
	env.service.visibility = fixedVisibility{}

	views, err := env.service.List(ctx, "alice", ListOptions{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mine, views[0].Asset.ID)

	_, err = env.service.Get(ctx, "alice", theirs)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestGetReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.submit(t, "u1", shareURL)
	_, err := env.service.GetReady(ctx, pending)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	id := readyAsset(t, env, "u1")
	asset, err := env.service.GetReady(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, asset.Status)
}
