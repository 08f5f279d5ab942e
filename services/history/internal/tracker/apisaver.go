package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APISaver persists coalesced updates by POSTing them to the History API.
// It is the Saver used by Go edge processes (kiosk players, import tools)
// that report progress over HTTP instead of NATS.
type APISaver struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token returns the current bearer token, or "" when no session is
	// active. Checked per save so token refresh just works.
	Token func() string
}

func NewAPISaver(baseURL string, token func() string) *APISaver {
	return &APISaver{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Token:      token,
	}
}

// HasSession is a ready-made Options.HasSession gate backed by Token.
func (s *APISaver) HasSession() bool {
	return s.Token != nil && strings.TrimSpace(s.Token()) != ""
}

type saveBody struct {
	VideoID     string `json:"videoId"`
	Platform    string `json:"platform"`
	Progress    int    `json:"progress"`
	Duration    int    `json:"duration"`
	Title       string `json:"title,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
}

func (s *APISaver) Save(ctx context.Context, u Update) error {
	body, err := json.Marshal(saveBody{
		VideoID:     u.VideoID,
		Platform:    string(u.Platform),
		Progress:    u.Progress,
		Duration:    u.Duration,
		Title:       u.Title,
		Thumbnail:   u.Thumbnail,
		ChannelName: u.ChannelName,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/history", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != nil {
		if tok := strings.TrimSpace(s.Token()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history save: status %d", resp.StatusCode)
	}
	return nil
}
