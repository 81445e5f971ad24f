package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/repository"
	"github.com/iconidentify/clipdrop/pkg/ffmpeg"
	"github.com/iconidentify/clipdrop/pkg/tiktok"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		BasePath: filepath.Join(root, "videos"),
		TempPath: filepath.Join(root, "temp"),
	}
}

// fakeResolver returns a fixed media description or error.
type fakeResolver struct {
	media *tiktok.Media
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, shareURL string) (*tiktok.Media, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.media, nil
}

// fakeDownloader writes canned bodies for known URLs and fails the rest.
type fakeDownloader struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  []string
}

func newFakeDownloader(bodies map[string]string) *fakeDownloader {
	return &fakeDownloader{bodies: bodies}
}

func (f *fakeDownloader) DownloadToFile(ctx context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.bodies[url]
	f.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("unexpected status code 404")
	}
	if err := os.WriteFile(dest, []byte(body), 0644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

// fakeFallback simulates the external downloader tool.
type fakeFallback struct {
	content string
	err     error
	calls   int
}

func (f *fakeFallback) Download(ctx context.Context, url, output string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte(f.content), 0644)
}

// fakeProcessor simulates ffmpeg and ffprobe.
type fakeProcessor struct {
	transcodeErr error
	thumbErr     error
	probeErr     error
	duration     float64
}

func (f *fakeProcessor) Transcode(ctx context.Context, input, output string) error {
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, append([]byte("encoded:"), data...), 0644)
}

func (f *fakeProcessor) ExtractThumbnail(ctx context.Context, input, output string) error {
	if f.thumbErr != nil {
		return f.thumbErr
	}
	return os.WriteFile(output, []byte("jpeg"), 0644)
}

func (f *fakeProcessor) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &ffmpeg.MediaInfo{Duration: f.duration}, nil
}

// acquirerFunc and transformerFunc adapt closures for orchestration tests.
type acquirerFunc func(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error)

func (f acquirerFunc) Acquire(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error) {
	return f(ctx, id, sourceURL)
}

type transformerFunc func(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error)

func (f transformerFunc) Transform(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error) {
	return f(ctx, id, acq)
}

// testEnv wires a service against a real SQLite store in a temp dir.
type testEnv struct {
	db        *repository.DB
	assets    *repository.SQLiteAssetRepository
	favorites *repository.SQLiteFavoriteRepository
	jobs      *repository.InMemoryJobRepository
	layout    Layout
	resolver  *fakeResolver
	files     *fakeDownloader
	fallback  *fakeFallback
	proc      *fakeProcessor
	service   *AssetService
}

func defaultPolicy() IngestPolicy {
	return IngestPolicy{
		AllowedHosts:     []string{"tiktok.com", "www.tiktok.com", "vm.tiktok.com", "m.tiktok.com"},
		MaxMessageLength: 30,
		Retention:        7 * 24 * time.Hour,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		db:        db,
		assets:    repository.NewSQLiteAssetRepository(db),
		favorites: repository.NewSQLiteFavoriteRepository(db),
		jobs:      repository.NewInMemoryJobRepository(),
		layout:    testLayout(t),
		resolver:  &fakeResolver{},
		files:     newFakeDownloader(map[string]string{}),
		fallback:  &fakeFallback{err: fmt.Errorf("yt-dlp: ERROR: Unsupported URL")},
		proc:      &fakeProcessor{duration: 12},
	}

	acquirer := NewMediaAcquirer(env.resolver, env.files, env.fallback, env.layout, 2, time.Minute, nil, testLogger())
	transformer := NewMediaTransformer(env.proc, env.layout, time.Minute, time.Minute, testLogger())
	env.service = NewAssetService(env.assets, env.favorites, env.jobs, acquirer, transformer,
		nil, env.layout, defaultPolicy(), nil, testLogger())
	return env
}

// withPipeline swaps the acquirer and transformer.
func (e *testEnv) withPipeline(a Acquirer, tr Transformer) {
	e.service.acquirer = a
	e.service.transformer = tr
}

func (e *testEnv) submit(t *testing.T, owner, url string) domain.AssetID {
	t.Helper()
	resp, err := e.service.Submit(context.Background(), SubmitRequest{OwnerID: owner, SourceURL: url})
	require.NoError(t, err)
	return resp.AssetID
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func imageURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example/img/%d.jpeg", i)
	}
	return urls
}
