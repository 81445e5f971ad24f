package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iconidentify/clipdrop/internal/domain"
)

const assetColumns = `id, owner_id, source_url, user_message, status, media_kind,
	primary_path, thumbnail_path, image_paths, audio_path, duration_seconds, file_size_bytes,
	source_author, source_caption, error_message, created_at, expires_at, completed_at`

// SQLiteAssetRepository implements AssetRepository on SQLite.
type SQLiteAssetRepository struct {
	db *DB
}

// NewSQLiteAssetRepository creates an asset repository backed by db.
func NewSQLiteAssetRepository(db *DB) *SQLiteAssetRepository {
	return &SQLiteAssetRepository{db: db}
}

// Create inserts a new processing asset.
func (r *SQLiteAssetRepository) Create(ctx context.Context, a *domain.Asset) error {
	if a.Status != domain.StatusProcessing {
		return fmt.Errorf("create asset %s: %w: status %s", a.ID, domain.ErrInvalidTransition, a.Status)
	}
	_, err := r.db.exec(ctx, `INSERT INTO assets
		(id, owner_id, source_url, user_message, status, media_kind, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.OwnerID, a.SourceURL, nullString(a.UserMessage),
		string(domain.StatusProcessing), string(domain.MediaKindPending),
		toMillis(a.CreatedAt), toMillis(a.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", a.ID, err)
	}
	return nil
}

// Get retrieves an asset by ID.
func (r *SQLiteAssetRepository) Get(ctx context.Context, id domain.AssetID) (*domain.Asset, error) {
	row := r.db.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id.String())
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return a, nil
}

// List returns assets matching the filter, newest first.
func (r *SQLiteAssetRepository) List(ctx context.Context, filter AssetFilter) ([]*domain.Asset, error) {
	where, args := filter.clause()
	query := `SELECT ` + assetColumns + ` FROM assets` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return r.query(ctx, query, args...)
}

// Count returns the number of assets matching the filter.
func (r *SQLiteAssetRepository) Count(ctx context.Context, filter AssetFilter) (int, error) {
	where, args := filter.clause()
	var n int
	if err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return n, nil
}

// CommitReady moves a processing asset to ready in a single statement.
func (r *SQLiteAssetRepository) CommitReady(ctx context.Context, id domain.AssetID, payload domain.Payload, source domain.SourceInfo, at time.Time) error {
	if err := domain.ValidatePayload(payload); err != nil {
		return domain.NewAssetError(id, "commit ready", err)
	}

	var (
		imagePaths sql.NullString
		audioPath  sql.NullString
		duration   sql.NullInt64
	)
	switch p := payload.(type) {
	case *domain.VideoPayload:
		if p.DurationSeconds > 0 {
			duration = sql.NullInt64{Int64: int64(p.DurationSeconds), Valid: true}
		}
	case *domain.SlideshowPayload:
		encoded, err := json.Marshal(p.ImagePaths)
		if err != nil {
			return fmt.Errorf("encode image paths: %w", err)
		}
		imagePaths = sql.NullString{String: string(encoded), Valid: true}
		audioPath = nullString(p.AudioPath)
	default:
		return domain.NewAssetError(id, "commit ready", fmt.Errorf("%w: unknown payload %T", domain.ErrIncompletePayload, payload))
	}

	res, err := r.db.exec(ctx, `UPDATE assets SET
			status = ?, media_kind = ?, primary_path = ?, thumbnail_path = ?,
			image_paths = ?, audio_path = ?, duration_seconds = ?, file_size_bytes = ?,
			source_author = ?, source_caption = ?, error_message = NULL, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.StatusReady), string(payload.Kind()), payload.PrimaryPath(), nullString(payload.Thumbnail()),
		imagePaths, audioPath, duration, payload.SizeBytes(),
		nullString(source.Author), nullString(source.Caption), toMillis(at),
		id.String(), string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("commit ready %s: %w", id, err)
	}
	return r.checkTransition(ctx, id, "commit ready", res)
}

// CommitFailed moves a processing asset to failed.
func (r *SQLiteAssetRepository) CommitFailed(ctx context.Context, id domain.AssetID, message string, at time.Time) error {
	if message == "" {
		message = "unknown error"
	}
	res, err := r.db.exec(ctx, `UPDATE assets SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.StatusFailed), message, toMillis(at),
		id.String(), string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("commit failed %s: %w", id, err)
	}
	return r.checkTransition(ctx, id, "commit failed", res)
}

func (r *SQLiteAssetRepository) checkTransition(ctx context.Context, id domain.AssetID, op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return domain.NewAssetError(id, op, err)
	}
	return domain.NewAssetError(id, op, domain.ErrInvalidTransition)
}

// FailStaleProcessing fails every processing asset created before cutoff.
func (r *SQLiteAssetRepository) FailStaleProcessing(ctx context.Context, cutoff time.Time, message string) ([]domain.AssetID, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT id FROM assets WHERE status = ? AND created_at < ?`,
		string(domain.StatusProcessing), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("select stale assets: %w", err)
	}
	var ids []domain.AssetID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale asset: %w", err)
		}
		ids = append(ids, domain.AssetID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale assets: %w", err)
	}

	now := time.Now()
	failed := ids[:0]
	for _, id := range ids {
		err := r.CommitFailed(ctx, id, message, now)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrAssetNotFound) {
			continue
		}
		if err != nil {
			return failed, err
		}
		failed = append(failed, id)
	}
	return failed, nil
}

// ListExpired returns assets of any status whose expiry is before now.
func (r *SQLiteAssetRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Asset, error) {
	return r.query(ctx, `SELECT `+assetColumns+` FROM assets
		WHERE expires_at < ? ORDER BY expires_at`,
		toMillis(now))
}

// DeleteIfExpired re-evaluates expiry and retention in the same statement as the delete.
func (r *SQLiteAssetRepository) DeleteIfExpired(ctx context.Context, id domain.AssetID, now time.Time) (bool, error) {
	res, err := r.db.exec(ctx, `DELETE FROM assets
		WHERE id = ? AND expires_at < ?
		  AND NOT EXISTS (SELECT 1 FROM favorites f WHERE f.asset_id = assets.id)`,
		id.String(), toMillis(now))
	if err != nil {
		return false, fmt.Errorf("delete expired %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete expired %s: %w", id, err)
	}
	return n > 0, nil
}

// Delete removes the asset unconditionally.
func (r *SQLiteAssetRepository) Delete(ctx context.Context, id domain.AssetID) (bool, error) {
	res, err := r.db.exec(ctx, `DELETE FROM assets WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete asset %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete asset %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *SQLiteAssetRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Asset, error) {
	return queryAssets(ctx, r.db.db, query, args...)
}

func queryAssets(ctx context.Context, db *sql.DB, query string, args ...any) ([]*domain.Asset, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

func (f AssetFilter) clause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, toMillis(f.Since))
	}
	if f.OwnerIDs != nil {
		if len(f.OwnerIDs) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			conds = append(conds, "owner_id IN (?"+strings.Repeat(", ?", len(f.OwnerIDs)-1)+")")
			for _, id := range f.OwnerIDs {
				args = append(args, id)
			}
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*domain.Asset, error) {
	var (
		a                                  domain.Asset
		id, status, kind                   string
		message, primary, thumb, images    sql.NullString
		audio, author, caption, errMessage sql.NullString
		duration, size, completed          sql.NullInt64
		created, expires                   int64
	)
	if err := row.Scan(&id, &a.OwnerID, &a.SourceURL, &message, &status, &kind,
		&primary, &thumb, &images, &audio, &duration, &size,
		&author, &caption, &errMessage, &created, &expires, &completed); err != nil {
		return nil, err
	}

	a.ID = domain.AssetID(id)
	a.Status = domain.AssetStatus(status)
	a.UserMessage = message.String
	a.ErrorMessage = errMessage.String
	a.Source = domain.SourceInfo{Author: author.String, Caption: caption.String}
	a.CreatedAt = fromMillis(created)
	a.ExpiresAt = fromMillis(expires)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		a.CompletedAt = &t
	}

	switch domain.MediaKind(kind) {
	case domain.MediaKindVideo:
		a.Payload = &domain.VideoPayload{
			Path:            primary.String,
			ThumbnailPath:   thumb.String,
			DurationSeconds: int(duration.Int64),
			FileSizeBytes:   size.Int64,
		}
	case domain.MediaKindSlideshow:
		p := &domain.SlideshowPayload{
			AudioPath:      audio.String,
			ThumbnailPath:  thumb.String,
			TotalSizeBytes: size.Int64,
		}
		if images.Valid {
			if err := json.Unmarshal([]byte(images.String), &p.ImagePaths); err != nil {
				return nil, fmt.Errorf("decode image paths for %s: %w", id, err)
			}
		}
		a.Payload = p
	}

	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
