package domain

import (
	"errors"
	"fmt"
	"time"
)

// AssetID is the public, unguessable handle of a submission.
type AssetID string

// String returns the string representation of the AssetID.
func (id AssetID) String() string {
	return string(id)
}

// AssetStatus represents the processing state of an asset.
type AssetStatus string

const (
	StatusProcessing AssetStatus = "processing"
	StatusReady      AssetStatus = "ready"
	StatusFailed     AssetStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s AssetStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// MediaKind classifies what an asset turned out to be.
type MediaKind string

const (
	MediaKindPending   MediaKind = "pending"
	MediaKindVideo     MediaKind = "video"
	MediaKindSlideshow MediaKind = "slideshow"
)

// SourceInfo is metadata captured from the origin platform.
type SourceInfo struct {
	Author  string
	Caption string
}

// Asset is the durable record of one submission.
//
// Payload is nil until the asset becomes ready. Once ready it is exactly one of
// *VideoPayload or *SlideshowPayload, and every path in it existed on disk at
// the moment of the transition.
type Asset struct {
	ID           AssetID
	OwnerID      string
	SourceURL    string
	UserMessage  string
	Status       AssetStatus
	ErrorMessage string
	Source       SourceInfo
	Payload      Payload
	CreatedAt    time.Time
	ExpiresAt    time.Time
	CompletedAt  *time.Time
}

// NewAsset creates a processing asset that expires after the retention window.
func NewAsset(id AssetID, ownerID, sourceURL, message string, now time.Time, retention time.Duration) *Asset {
	now = now.UTC()
	return &Asset{
		ID:          id,
		OwnerID:     ownerID,
		SourceURL:   sourceURL,
		UserMessage: message,
		Status:      StatusProcessing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(retention),
	}
}

// Kind returns the media kind, or MediaKindPending when no payload is set.
func (a *Asset) Kind() MediaKind {
	if a.Payload == nil {
		return MediaKindPending
	}
	return a.Payload.Kind()
}

// IsExpired reports whether the retention window has elapsed at now.
func (a *Asset) IsExpired(now time.Time) bool {
	return a.ExpiresAt.Before(now)
}

// Video returns the video payload, if any.
func (a *Asset) Video() (*VideoPayload, bool) {
	p, ok := a.Payload.(*VideoPayload)
	return p, ok
}

// Slideshow returns the slideshow payload, if any.
func (a *Asset) Slideshow() (*SlideshowPayload, bool) {
	p, ok := a.Payload.(*SlideshowPayload)
	return p, ok
}

// Files returns every on-disk path the asset references.
func (a *Asset) Files() []string {
	if a.Payload == nil {
		return nil
	}
	return a.Payload.Files()
}

// Payload is the kind-specific part of a ready asset.
type Payload interface {
	Kind() MediaKind
	// PrimaryPath is the canonical playable file.
	PrimaryPath() string
	Thumbnail() string
	SizeBytes() int64
	Files() []string
	Validate() error
}

// VideoPayload describes a transcoded single video.
type VideoPayload struct {
	Path            string
	ThumbnailPath   string
	DurationSeconds int
	FileSizeBytes   int64
}

func (p *VideoPayload) Kind() MediaKind     { return MediaKindVideo }
func (p *VideoPayload) PrimaryPath() string { return p.Path }
func (p *VideoPayload) Thumbnail() string   { return p.ThumbnailPath }
func (p *VideoPayload) SizeBytes() int64    { return p.FileSizeBytes }

func (p *VideoPayload) Files() []string {
	files := []string{p.Path}
	if p.ThumbnailPath != "" {
		files = append(files, p.ThumbnailPath)
	}
	return files
}

func (p *VideoPayload) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("%w: video payload without path", ErrIncompletePayload)
	}
	return nil
}

// SlideshowPayload describes an ordered image sequence with optional audio.
type SlideshowPayload struct {
	ImagePaths     []string
	AudioPath      string
	ThumbnailPath  string
	TotalSizeBytes int64
}

func (p *SlideshowPayload) Kind() MediaKind   { return MediaKindSlideshow }
func (p *SlideshowPayload) Thumbnail() string { return p.ThumbnailPath }
func (p *SlideshowPayload) SizeBytes() int64  { return p.TotalSizeBytes }

func (p *SlideshowPayload) PrimaryPath() string {
	if len(p.ImagePaths) == 0 {
		return ""
	}
	return p.ImagePaths[0]
}

func (p *SlideshowPayload) Files() []string {
	files := make([]string, 0, len(p.ImagePaths)+2)
	files = append(files, p.ImagePaths...)
	if p.AudioPath != "" {
		files = append(files, p.AudioPath)
	}
	if p.ThumbnailPath != "" && !contains(p.ImagePaths, p.ThumbnailPath) {
		files = append(files, p.ThumbnailPath)
	}
	return files
}

func (p *SlideshowPayload) Validate() error {
	if len(p.ImagePaths) == 0 {
		return fmt.Errorf("%w: slideshow payload without images", ErrIncompletePayload)
	}
	for i, path := range p.ImagePaths {
		if path == "" {
			return fmt.Errorf("%w: slideshow image %d has no path", ErrIncompletePayload, i)
		}
	}
	return nil
}

// ValidatePayload checks a payload before it is committed as ready.
func ValidatePayload(p Payload) error {
	if p == nil {
		return errors.Join(ErrIncompletePayload, errors.New("payload is nil"))
	}
	return p.Validate()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
