package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/iconidentify/clipdrop/internal/api/middleware"
	"github.com/iconidentify/clipdrop/internal/domain"
	"github.com/iconidentify/clipdrop/internal/repository"
	"github.com/iconidentify/clipdrop/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopAcquirer and noopTransformer are never reached: handler tests seed
// ready assets directly through the repository.
type noopAcquirer struct{}

func (noopAcquirer) Acquire(ctx context.Context, id domain.AssetID, sourceURL string) (*domain.Acquisition, error) {
	return nil, domain.ErrAcquisitionFailed
}

type noopTransformer struct{}

func (noopTransformer) Transform(ctx context.Context, id domain.AssetID, acq *domain.Acquisition) (domain.Payload, error) {
	return nil, domain.ErrTransformFailed
}

type testServer struct {
	t       *testing.T
	db      *repository.DB
	assets  *repository.SQLiteAssetRepository
	jobs    *repository.InMemoryJobRepository
	service *service.AssetService
	dir     string
	router  chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.Open(context.Background(), filepath.Join(dir, "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	assets := repository.NewSQLiteAssetRepository(db)
	favorites := repository.NewSQLiteFavoriteRepository(db)
	jobs := repository.NewInMemoryJobRepository()
	layout := service.Layout{BasePath: filepath.Join(dir, "videos"), TempPath: filepath.Join(dir, "temp")}
	policy := service.IngestPolicy{
		AllowedHosts:     []string{"tiktok.com", "www.tiktok.com", "vm.tiktok.com", "m.tiktok.com"},
		MaxMessageLength: 30,
		Retention:        7 * 24 * time.Hour,
	}
	svc := service.NewAssetService(assets, favorites, jobs, noopAcquirer{}, noopTransformer{},
		nil, layout, policy, nil, testLogger())

	assetHandler := NewAssetHandler(svc, NewURLBuilder("https://clips.example"), testLogger())
	mediaHandler := NewMediaHandler(svc, testLogger())

	r := chi.NewRouter()
	r.Get("/api/videos/{id}/stream", mediaHandler.Stream)
	r.Get("/api/videos/{id}/thumbnail", mediaHandler.Thumbnail)
	r.Get("/api/videos/{id}/images/{index}", mediaHandler.Image)
	r.Get("/api/videos/{id}/audio", mediaHandler.Audio)
	r.Group(func(r chi.Router) {
		r.Use(fakeAuth)
		r.Post("/api/videos", assetHandler.Submit)
		r.Get("/api/videos", assetHandler.List)
		r.Get("/api/videos/check", assetHandler.Check)
		r.Get("/api/videos/favorites", assetHandler.ListFavorites)
		r.Get("/api/videos/{id}", assetHandler.Get)
		r.Delete("/api/videos/{id}", assetHandler.Delete)
		r.Post("/api/videos/{id}/favorite", assetHandler.Favorite)
		r.Delete("/api/videos/{id}/favorite", assetHandler.Unfavorite)
	})

	return &testServer{
		t:       t,
		db:      db,
		assets:  assets,
		jobs:    jobs,
		service: svc,
		dir:     dir,
		router:  r,
	}
}

// fakeAuth takes the caller's id from the X-Test-User header.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			r = r.WithContext(mw.WithUser(r.Context(), &mw.Claims{UserID: user}))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *testServer) writeFile(name string, data []byte) string {
	s.t.Helper()
	path := filepath.Join(s.dir, "videos", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.t.Fatal(err)
	}
	return path
}

// seed creates a ready asset owned by owner with the given payload.
func (s *testServer) seed(id domain.AssetID, owner string, payload domain.Payload) {
	s.t.Helper()
	ctx := context.Background()
	asset := domain.NewAsset(id, owner, "https://www.tiktok.com/@a/video/1", "look", time.Now(), 7*24*time.Hour)
	if err := s.assets.Create(ctx, asset); err != nil {
		s.t.Fatal(err)
	}
	if payload == nil {
		return
	}
	if err := s.assets.CommitReady(ctx, id, payload, domain.SourceInfo{Author: "creator", Caption: "caption"}, time.Now()); err != nil {
		s.t.Fatal(err)
	}
}

func (s *testServer) seedVideo(id domain.AssetID, owner string, size int) *domain.VideoPayload {
	s.t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	p := &domain.VideoPayload{
		Path:            s.writeFile(id.String()+"/video.mp4", data),
		ThumbnailPath:   s.writeFile(id.String()+"/thumb.jpg", []byte("jpeg")),
		DurationSeconds: 12,
		FileSizeBytes:   int64(size),
	}
	s.seed(id, owner, p)
	return p
}
