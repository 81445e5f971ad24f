// Package tiktok resolves short-video share links into direct media URLs
// through a tikwm-compatible metadata API.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoMedia is returned when the provider answers but exposes nothing downloadable.
var ErrNoMedia = errors.New("no media in provider response")

// Media is the downloadable content behind a share link.
type Media struct {
	// VideoURL is set for single videos, best quality first among hdplay, play, wmplay.
	VideoURL string
	// ImageURLs is set for photo slideshows, in display order.
	ImageURLs []string
	// AudioURL is the slideshow soundtrack, if any.
	AudioURL string
	Author   string
	Caption  string
}

// IsSlideshow reports whether the post is an image slideshow.
func (m *Media) IsSlideshow() bool {
	return len(m.ImageURLs) > 0
}

// Client fetches post metadata from the provider API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new provider client.
func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
	}
}

// apiResponse is the response envelope of the metadata API.
type apiResponse struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data *apiPost `json:"data"`
}

type apiPost struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Play      string   `json:"play"`
	WMPlay    string   `json:"wmplay"`
	HDPlay    string   `json:"hdplay"`
	Images    []string `json:"images"`
	Music     string   `json:"music"`
	MusicInfo struct {
		Play string `json:"play"`
	} `json:"music_info"`
	Author struct {
		UniqueID string `json:"unique_id"`
		Nickname string `json:"nickname"`
	} `json:"author"`
}

// Resolve looks up the media behind shareURL.
func (c *Client) Resolve(ctx context.Context, shareURL string) (*Media, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", shareURL)
	q.Set("hd", "1")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API error (code %d): %s", apiResp.Code, apiResp.Msg)
	}
	if apiResp.Data == nil {
		return nil, ErrNoMedia
	}

	return c.toMedia(endpoint, apiResp.Data)
}

func (c *Client) toMedia(base *url.URL, p *apiPost) (*Media, error) {
	m := &Media{
		Author:  firstNonEmpty(p.Author.Nickname, p.Author.UniqueID),
		Caption: strings.TrimSpace(p.Title),
	}

	for _, img := range p.Images {
		if img = strings.TrimSpace(img); img != "" {
			m.ImageURLs = append(m.ImageURLs, absolute(base, img))
		}
	}

	if m.IsSlideshow() {
		if audio := firstNonEmpty(p.MusicInfo.Play, p.Music); audio != "" {
			m.AudioURL = absolute(base, audio)
		}
		return m, nil
	}

	video := firstNonEmpty(p.HDPlay, p.Play, p.WMPlay)
	if video == "" {
		return nil, ErrNoMedia
	}
	m.VideoURL = absolute(base, video)
	return m, nil
}

// absolute resolves provider-relative media paths against the API host.
func absolute(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
