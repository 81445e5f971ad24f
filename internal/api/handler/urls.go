package handler

import (
	"fmt"
	"strings"

	"github.com/iconidentify/clipdrop/internal/domain"
)

// URLBuilder derives the public media URLs of an asset.
type URLBuilder struct {
	base string
}

// NewURLBuilder creates a builder. An empty base yields root-relative URLs.
func NewURLBuilder(publicBaseURL string) URLBuilder {
	return URLBuilder{base: strings.TrimRight(publicBaseURL, "/")}
}

func (b URLBuilder) path(id domain.AssetID, suffix string) string {
	return b.base + "/api/videos/" + id.String() + suffix
}

// Stream is the byte-range video URL.
func (b URLBuilder) Stream(id domain.AssetID) string { return b.path(id, "/stream") }

// Thumbnail is the cover image URL.
func (b URLBuilder) Thumbnail(id domain.AssetID) string { return b.path(id, "/thumbnail") }

// Image is the URL of the index-th slideshow image.
func (b URLBuilder) Image(id domain.AssetID, index int) string {
	return b.path(id, fmt.Sprintf("/images/%d", index))
}

// Audio is the slideshow soundtrack URL.
func (b URLBuilder) Audio(id domain.AssetID) string { return b.path(id, "/audio") }
