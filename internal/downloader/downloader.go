package downloader

import (
	"context"
	"errors"
	"fmt"
)

// Downloader fetches remote media into local files.
type Downloader interface {
	// DownloadToFile streams url into dest and returns the number of bytes written.
	// dest only appears once the body was received completely.
	DownloadToFile(ctx context.Context, url, dest string) (int64, error)
}

var (
	// ErrStalled is returned when the remote stops sending data for longer than the read timeout.
	ErrStalled = errors.New("download stalled")

	// ErrFileTooLarge is returned when the body exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}
