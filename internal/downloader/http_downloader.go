package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/clipdrop/internal/config"
)

// HTTPDownloader implements Downloader using HTTP requests.
type HTTPDownloader struct {
	client      *http.Client
	userAgent   string
	cfg         config.DownloadConfig
	maxFileSize int64
	logger      *slog.Logger
}

// NewHTTPDownloader creates a downloader bounded by cfg. A maxFileSize of zero disables the limit.
func NewHTTPDownloader(cfg config.DownloadConfig, maxFileSize int64, logger *slog.Logger) *HTTPDownloader {
	headerTimeout := cfg.ReadTimeout
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}

	return &HTTPDownloader{
		// No client-level timeout: the overall bound comes from the request
		// context and stalls are caught per read.
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: headerTimeout,
			},
		},
		userAgent:   cfg.UserAgent,
		cfg:         cfg,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// DownloadToFile fetches url into dest through a temporary .part file.
func (d *HTTPDownloader) DownloadToFile(ctx context.Context, url, dest string) (int64, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", "https://www.tiktok.com/")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", causeOr(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if d.maxFileSize > 0 && resp.ContentLength > d.maxFileSize {
		return 0, fmt.Errorf("%w: %s > %s", ErrFileTooLarge,
			humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(d.maxFileSize)))
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	pr := newProgressReader(resp.Body, resp.ContentLength, d.cfg.ReadTimeout, abort, d.logger, url)
	var src io.Reader = pr
	if d.maxFileSize > 0 {
		src = io.LimitReader(pr, d.maxFileSize+1)
	}

	n, copyErr := io.Copy(f, src)
	pr.finish()
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("read body: %w", causeOr(ctx, copyErr))
	case closeErr != nil:
		err = fmt.Errorf("close file: %w", closeErr)
	case d.maxFileSize > 0 && n > d.maxFileSize:
		err = fmt.Errorf("%w: more than %s", ErrFileTooLarge, humanize.Bytes(uint64(d.maxFileSize)))
	case resp.ContentLength > 0 && n != resp.ContentLength:
		err = fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("finalize file: %w", err)
	}

	return n, nil
}

// causeOr prefers the context's cancellation cause (stall, deadline) over the transport error.
func causeOr(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}
	if errors.Is(cause, context.Canceled) {
		return err
	}
	return cause
}

// progressReader tracks download progress and aborts the request when no
// data arrives for readTimeout.
type progressReader struct {
	reader      io.Reader
	total       int64
	downloaded  int64
	readTimeout time.Duration
	watchdog    *time.Timer
	lastLog     time.Time
	logger      *slog.Logger
	url         string
	mu          sync.Mutex
	done        bool
}

func newProgressReader(r io.Reader, total int64, readTimeout time.Duration, abort context.CancelCauseFunc, logger *slog.Logger, url string) *progressReader {
	p := &progressReader{
		reader:      r,
		total:       total,
		readTimeout: readTimeout,
		lastLog:     time.Now(),
		logger:      logger,
		url:         url,
	}
	if readTimeout > 0 {
		p.watchdog = time.AfterFunc(readTimeout, func() {
			abort(fmt.Errorf("%w: no data received for %v", ErrStalled, readTimeout))
		})
	}
	return p
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		if p.watchdog != nil && !p.done {
			p.watchdog.Reset(p.readTimeout)
		}

		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}

	return n, err
}

// finish stops the stall watchdog.
func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = true
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded", humanize.Bytes(uint64(p.downloaded)),
			"total", humanize.Bytes(uint64(p.total)),
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded", humanize.Bytes(uint64(p.downloaded)),
		)
	}
}
