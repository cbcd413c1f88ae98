// Package tiktok looks up public TikTok profiles through a third-party API.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scrapetok/internal/config"
)

var ErrNotConfigured = errors.New("tiktok profile lookup is not configured")

type Profile struct {
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
	Followers int64  `json:"followers"`
	Following int64  `json:"following"`
	Likes     int64  `json:"likes"`
	Videos    int64  `json:"videos"`
}

type Client struct {
	apiURL string
	apiKey string
	httpc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{
		apiURL: strings.TrimRight(cfg.TikTokAPIURL, "/"),
		apiKey: strings.TrimSpace(cfg.TikTokAPIKey),
		httpc:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type profileResponse struct {
	Data struct {
		User struct {
			UniqueID  string `json:"uniqueId"`
			Nickname  string `json:"nickname"`
			AvatarURL string `json:"avatarLarger"`
			Signature string `json:"signature"`
			Verified  bool   `json:"verified"`
		} `json:"user"`
		Stats struct {
			FollowerCount  int64 `json:"followerCount"`
			FollowingCount int64 `json:"followingCount"`
			HeartCount     int64 `json:"heartCount"`
			VideoCount     int64 `json:"videoCount"`
		} `json:"stats"`
	} `json:"data"`
	Message string `json:"msg"`
}

func (c *Client) Lookup(ctx context.Context, username string) (Profile, error) {
	if !c.Configured() {
		return Profile{}, ErrNotConfigured
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return Profile{}, fmt.Errorf("username is required")
	}

	q := url.Values{}
	q.Set("unique_id", "@"+username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/user/info?"+q.Encode(), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("tiktok lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Profile{}, fmt.Errorf("tiktok lookup: HTTP %d", resp.StatusCode)
	}

	var out profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Profile{}, fmt.Errorf("tiktok lookup: decode: %w", err)
	}
	if out.Data.User.UniqueID == "" {
		msg := out.Message
		if msg == "" {
			msg = "profile not found"
		}
		return Profile{}, fmt.Errorf("tiktok lookup: %s", msg)
	}
	return Profile{
		Username:  out.Data.User.UniqueID,
		Nickname:  out.Data.User.Nickname,
		AvatarURL: out.Data.User.AvatarURL,
		Signature: out.Data.User.Signature,
		Verified:  out.Data.User.Verified,
		Followers: out.Data.Stats.FollowerCount,
		Following: out.Data.Stats.FollowingCount,
		Likes:     out.Data.Stats.HeartCount,
		Videos:    out.Data.Stats.VideoCount,
	}, nil
}
