package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// SQLiteFavoriteRepository implements FavoriteRepository on SQLite.
type SQLiteFavoriteRepository struct {
	db *DB
}

// NewSQLiteFavoriteRepository creates a favorite repository backed by db.
func NewSQLiteFavoriteRepository(db *DB) *SQLiteFavoriteRepository {
	return &SQLiteFavoriteRepository{db: db}
}

// Add marks the asset as a favorite of the user.
func (r *SQLiteFavoriteRepository) Add(ctx context.Context, userID string, assetID domain.AssetID) error {
	_, err := r.db.exec(ctx, `INSERT INTO favorites (user_id, asset_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, asset_id) DO NOTHING`,
		userID, assetID.String(), toMillis(time.Now()))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return domain.ErrAssetNotFound
		}
		return fmt.Errorf("add favorite %s: %w", assetID, err)
	}
	return nil
}

// Remove clears the user's mark on the asset.
func (r *SQLiteFavoriteRepository) Remove(ctx context.Context, userID string, assetID domain.AssetID) error {
	if _, err := r.db.exec(ctx, `DELETE FROM favorites WHERE user_id = ? AND asset_id = ?`,
		userID, assetID.String()); err != nil {
		return fmt.Errorf("remove favorite %s: %w", assetID, err)
	}
	return nil
}

// IsFavorited reports whether the user marked the asset.
func (r *SQLiteFavoriteRepository) IsFavorited(ctx context.Context, userID string, assetID domain.AssetID) (bool, error) {
	var n int
	err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM favorites WHERE user_id = ? AND asset_id = ?`,
		userID, assetID.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check favorite %s: %w", assetID, err)
	}
	return n > 0, nil
}

// FavoritedBy returns which of ids the user marked.
func (r *SQLiteFavoriteRepository) FavoritedBy(ctx context.Context, userID string, ids []domain.AssetID) (map[domain.AssetID]bool, error) {
	result := make(map[domain.AssetID]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id.String())
	}
	rows, err := r.db.db.QueryContext(ctx, `SELECT asset_id FROM favorites
		WHERE user_id = ? AND asset_id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		result[domain.AssetID(id)] = true
	}
	return result, rows.Err()
}

// IsRetained reports whether any user marked the asset.
func (r *SQLiteFavoriteRepository) IsRetained(ctx context.Context, assetID domain.AssetID) (bool, error) {
	var n int
	err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM favorites WHERE asset_id = ?`,
		assetID.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check retention %s: %w", assetID, err)
	}
	return n > 0, nil
}

// ListAssets returns the ready assets the user marked, newest mark first.
func (r *SQLiteFavoriteRepository) ListAssets(ctx context.Context, userID string) ([]*domain.Asset, error) {
	return queryAssets(ctx, r.db.db, `SELECT `+prefixColumns("a")+` FROM assets a
		JOIN favorites f ON f.asset_id = a.id
		WHERE f.user_id = ? AND a.status = ?
		ORDER BY f.created_at DESC, a.id`,
		userID, string(domain.StatusReady))
}

// ExemptAssetIDs returns every asset marked by at least one user.
func (r *SQLiteFavoriteRepository) ExemptAssetIDs(ctx context.Context) (map[domain.AssetID]struct{}, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT DISTINCT asset_id FROM favorites`)
	if err != nil {
		return nil, fmt.Errorf("query exempt assets: %w", err)
	}
	defer rows.Close()

	exempt := make(map[domain.AssetID]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exempt asset: %w", err)
		}
		exempt[domain.AssetID(id)] = struct{}{}
	}
	return exempt, rows.Err()
}

func prefixColumns(alias string) string {
	fields := strings.Split(assetColumns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}
