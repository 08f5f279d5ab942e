// Package metadata fetches public display metadata for embedded third-party
// videos. The provider is fallible by design: the save path falls back to
// caller-supplied or placeholder metadata whenever a lookup fails.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set. Callers on the save
// path treat it like any other provider failure and fall back.
var ErrNotConfigured = errors.New("metadata provider API key not configured")

// Video is the provider's answer for one external video.
type Video struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	ChannelName string `json:"channelName"`
	Duration    int    `json:"duration"`
}

// Provider is the external metadata contract: a single fallible lookup plus
// a thumbnail URL that can always be constructed locally.
type Provider interface {
	Fetch(ctx context.Context, videoID string) (Video, error)
	ThumbnailURL(videoID string) string
}

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"
	// defaultThumbnailTemplate builds a usable thumbnail from just the video
	// id, no API call needed.
	defaultThumbnailTemplate = "https://img.youtube.com/vi/%s/hqdefault.jpg"
)

// Client talks to a YouTube-Data-API-shaped metadata endpoint.
type Client struct {
	BaseURL           string
	APIKey            string
	HTTPClient        *http.Client
	ThumbnailTemplate string
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		APIKey:            apiKey,
		HTTPClient:        &http.Client{Timeout: 5 * time.Second},
		ThumbnailTemplate: defaultThumbnailTemplate,
	}
}

type thumbnail struct {
	URL string `json:"url"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				High    thumbnail `json:"high"`
				Medium  thumbnail `json:"medium"`
				Default thumbnail `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Fetch resolves title/thumbnail/channel/duration for an external video.
func (c *Client) Fetch(ctx context.Context, videoID string) (Video, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return Video{}, ErrNotConfigured
	}

	u := fmt.Sprintf("%s/videos?part=snippet,contentDetails&id=%s&key=%s",
		c.BaseURL, url.QueryEscape(videoID), url.QueryEscape(c.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Video{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Video{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Video{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return Video{}, errors.New("metadata provider quota exceeded or invalid API key")
	default:
		return Video{}, fmt.Errorf("metadata provider: status %d body=%q", resp.StatusCode, string(b[:min(len(b), 200)]))
	}

	var out videosResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return Video{}, fmt.Errorf("metadata provider: decode error: %w", err)
	}
	if len(out.Items) == 0 {
		return Video{}, errors.New("video not found or unavailable")
	}

	item := out.Items[0]
	thumb := item.Snippet.Thumbnails.High.URL
	if thumb == "" {
		thumb = item.Snippet.Thumbnails.Medium.URL
	}
	if thumb == "" {
		thumb = item.Snippet.Thumbnails.Default.URL
	}

	return Video{
		VideoID:     item.ID,
		Title:       item.Snippet.Title,
		Thumbnail:   thumb,
		ChannelName: item.Snippet.ChannelTitle,
		Duration:    ParseISODuration(item.ContentDetails.Duration),
	}, nil
}

// ThumbnailURL constructs a fallback thumbnail without calling the provider.
func (c *Client) ThumbnailURL(videoID string) string {
	tpl := c.ThumbnailTemplate
	if tpl == "" {
		tpl = defaultThumbnailTemplate
	}
	return fmt.Sprintf(tpl, url.PathEscape(videoID))
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration converts an ISO 8601 duration like "PT1H2M10S" to whole
// seconds. Unparseable input yields 0.
func ParseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	return atoi(m[1])*3600 + atoi(m[2])*60 + atoi(m[3])
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// IsValidVideoID reports whether s looks like an external video id
// (11 URL-safe characters).
func IsValidVideoID(s string) bool {
	return videoIDRe.MatchString(s)
}

var watchURLRe = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([A-Za-z0-9_-]{11})`)

// ExtractVideoID pulls the video id out of common share-URL shapes, or
// returns s unchanged when it already is a bare id. Empty string means no
// id could be extracted.
func ExtractVideoID(s string) string {
	s = strings.TrimSpace(s)
	if IsValidVideoID(s) {
		return s
	}
	if m := watchURLRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
