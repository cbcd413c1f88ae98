// Package youtube decides, before a sound or video thumbnail is rendered,
// whether the live embed is available and which thumbnail resolution to use.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scrapetok/internal/config"
)

// Resolutions tried in order; the first one that answers 200 wins.
var thumbQualities = []string{"maxresdefault", "sddefault", "hqdefault", "mqdefault", "default"}

type Prober struct {
	oembedURL string
	thumbBase string
	httpc     *http.Client
}

func NewProber(cfg config.Config) *Prober {
	return &Prober{
		oembedURL: strings.TrimRight(cfg.YouTubeOEmbedURL, "/"),
		thumbBase: strings.TrimRight(cfg.YouTubeThumbBase, "/"),
		httpc:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Result tells the caller whether to show the live embed or fall back to a
// static entry, and which thumbnail to use either way.
type Result struct {
	VideoID      string `json:"videoId"`
	Available    bool   `json:"available"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func (p *Prober) Check(ctx context.Context, videoID string) (Result, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return Result{}, fmt.Errorf("video id is required")
	}
	out := Result{VideoID: videoID}

	available, err := p.available(ctx, videoID)
	if err != nil {
		return Result{}, err
	}
	out.Available = available
	if thumb, ok := p.bestThumbnail(ctx, videoID); ok {
		out.ThumbnailURL = thumb
	}
	return out, nil
}

// available performs the oEmbed lookup. A 2xx answer means the video can be
// embedded; any 4xx means it cannot (private, deleted, region-blocked).
func (p *Prober) available(ctx context.Context, videoID string) (bool, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.oembedURL+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// bestThumbnail walks the quality ladder until a resolution responds.
func (p *Prober) bestThumbnail(ctx context.Context, videoID string) (string, bool) {
	for _, quality := range thumbQualities {
		thumbURL := fmt.Sprintf("%s/%s/%s.jpg", p.thumbBase, url.PathEscape(videoID), quality)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, thumbURL, nil)
		if err != nil {
			continue
		}
		resp, err := p.httpc.Do(req)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return thumbURL, true
		}
	}
	return "", false
}
