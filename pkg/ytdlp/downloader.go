// Package ytdlp wraps the yt-dlp command-line downloader.
package ytdlp

import (
	"context"
	"fmt"
	"os"

	"github.com/iconidentify/clipdrop/pkg/toolexec"
)

// Downloader fetches single videos with yt-dlp.
type Downloader struct {
	runner toolexec.Runner
	path   string
}

// New creates a downloader that invokes the yt-dlp binary at path.
func New(runner toolexec.Runner, path string) *Downloader {
	if path == "" {
		path = "yt-dlp"
	}
	return &Downloader{runner: runner, path: path}
}

// Args builds the yt-dlp arguments for an MP4 download of a single item.
func Args(url, output string) []string {
	return []string{
		"-f", "best[ext=mp4]/best",
		"-o", output,
		"--no-playlist",
		"--no-warnings",
		url,
	}
}

// Download writes the video at url to output. Success means a zero exit code
// and an output file on disk.
func (d *Downloader) Download(ctx context.Context, url, output string) error {
	res, err := d.runner.Run(ctx, toolexec.Command{Path: d.path, Args: Args(url, output)})
	if err != nil {
		return fmt.Errorf("yt-dlp: %w", err)
	}
	if !res.Succeeded() {
		return res.Failure("yt-dlp")
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("yt-dlp produced no output file")
	}
	return nil
}
