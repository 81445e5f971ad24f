package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// Layout maps assets to their on-disk directories. Every submission gets its
// own scratch and output directory, so concurrent runs never share paths.
type Layout struct {
	BasePath string
	TempPath string
}

// AssetDir is where the finished files of an asset live.
func (l Layout) AssetDir(id domain.AssetID) string {
	return filepath.Join(l.BasePath, id.String())
}

// ScratchDir is where acquisition writes raw downloads.
func (l Layout) ScratchDir(id domain.AssetID) string {
	return filepath.Join(l.TempPath, id.String())
}

// RemoveAsset deletes every file the asset references plus its directories.
// Failures are logged and otherwise ignored.
func (l Layout) RemoveAsset(a *domain.Asset, logger *slog.Logger) {
	for _, path := range a.Files() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove asset file", "asset_id", a.ID, "path", path, "error", err)
		}
	}
	l.RemoveWorkDirs(a.ID, logger)
}

// RemoveWorkDirs deletes the scratch and output directories of an asset.
func (l Layout) RemoveWorkDirs(id domain.AssetID, logger *slog.Logger) {
	for _, dir := range []string{l.ScratchDir(id), l.AssetDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove asset directory", "asset_id", id, "path", dir, "error", err)
		}
	}
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Remove(src)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// verifyFiles checks that every path exists as a regular file.
func verifyFiles(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: %s", domain.ErrFileMissing, p)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", domain.ErrFileMissing, p)
		}
	}
	return nil
}

func removeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
