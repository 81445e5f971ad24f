package tiktok

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("url"); got != "https://vm.tiktok.com/ZM123/" {
			t.Errorf("url query = %q", got)
		}
		if r.URL.Query().Get("hd") != "1" {
			t.Error("hd=1 should be requested")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func resolve(t *testing.T, server *httptest.Server) (*Media, error) {
	t.Helper()
	c := NewClient(server.URL+"/api/", 5*time.Second, "test-agent")
	return c.Resolve(context.Background(), "https://vm.tiktok.com/ZM123/")
}

func TestClient_Resolve_Video(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{
		"code": 0, "msg": "success",
		"data": {
			"title": " dance ",
			"play": "https://cdn.example/play.mp4",
			"hdplay": "https://cdn.example/hd.mp4",
			"wmplay": "https://cdn.example/wm.mp4",
			"author": {"unique_id": "dancer1", "nickname": "Dancer"}
		}
	}`)

	m, err := resolve(t, server)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.IsSlideshow() {
		t.Error("video should not be a slideshow")
	}
	if m.VideoURL != "https://cdn.example/hd.mp4" {
		t.Errorf("VideoURL = %q, want the HD variant", m.VideoURL)
	}
	if m.Author != "Dancer" || m.Caption != "dance" {
		t.Errorf("Author = %q, Caption = %q", m.Author, m.Caption)
	}
}

func TestClient_Resolve_VideoFallsBackToPlainVariant(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{"code":0,"data":{"play":"/video/media/play/1.mp4","author":{"unique_id":"u"}}}`)

	m, err := resolve(t, server)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(m.VideoURL, server.URL+"/video/media/play/1.mp4") {
		t.Errorf("relative URL not resolved against the API host: %q", m.VideoURL)
	}
	if m.Author != "u" {
		t.Errorf("Author = %q, want unique_id fallback", m.Author)
	}
}

func TestClient_Resolve_Slideshow(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{
		"code": 0,
		"data": {
			"play": "https://cdn.example/ignored.mp3",
			"images": ["https://cdn.example/1.jpg", "", "https://cdn.example/2.jpg"],
			"music": "https://cdn.example/music.mp3",
			"music_info": {"play": "https://cdn.example/info.mp3"}
		}
	}`)

	m, err := resolve(t, server)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !m.IsSlideshow() {
		t.Fatal("expected slideshow")
	}
	if len(m.ImageURLs) != 2 || m.ImageURLs[1] != "https://cdn.example/2.jpg" {
		t.Errorf("ImageURLs = %v", m.ImageURLs)
	}
	if m.AudioURL != "https://cdn.example/info.mp3" {
		t.Errorf("AudioURL = %q, want music_info.play", m.AudioURL)
	}
	if m.VideoURL != "" {
		t.Errorf("VideoURL should be empty for slideshows, got %q", m.VideoURL)
	}
}

func TestClient_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusBadGateway, "upstream down", "status 502"},
		{"api error code", http.StatusOK, `{"code":-1,"msg":"Url parsing is failed!"}`, "Url parsing is failed!"},
		{"malformed json", http.StatusOK, `{"code":0,`, "decode response"},
		{"missing data", http.StatusOK, `{"code":0,"msg":"ok"}`, ErrNoMedia.Error()},
		{"no media urls", http.StatusOK, `{"code":0,"data":{"title":"x"}}`, ErrNoMedia.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(t, newTestServer(t, tt.status, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Resolve_NoMediaIsSentinel(t *testing.T) {
	_, err := resolve(t, newTestServer(t, http.StatusOK, `{"code":0,"data":{}}`))
	if !errors.Is(err, ErrNoMedia) {
		t.Errorf("expected ErrNoMedia, got %v", err)
	}
}
