package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iconidentify/clipdrop/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createAsset(t *testing.T, repo *SQLiteAssetRepository, id, owner string, created time.Time, retention time.Duration) *domain.Asset {
	t.Helper()
	a := domain.NewAsset(domain.AssetID(id), owner, "https://www.tiktok.com/@u/video/"+id, "", created, retention)
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}
