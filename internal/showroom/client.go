// Package showroom talks to the live platform API and turns live rooms into
// capture sessions.
package showroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRoomNotFound is returned when a room URL key does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotStreaming is returned when a live room has no stream URL yet.
	ErrNotStreaming = errors.New("room has no stream")
)

// liveStatusOnAir is the live_info status of a broadcasting room.
const liveStatusOnAir = 2

const defaultAPITimeout = 10 * time.Second

// API is the subset of platform calls a Listener needs.
type API interface {
	RoomID(ctx context.Context, roomURLKey string) (int64, error)
	IsLive(ctx context.Context, roomID int64) (bool, error)
	StreamingURL(ctx context.Context, roomID int64) (string, error)
}

// TextGetter performs GET requests; httpclient.Client implements it.
type TextGetter interface {
	GetText(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (int, string, error)
}

// Client is the platform API client. Calls share one rate limiter.
type Client struct {
	base    *url.URL
	http    TextGetter
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

// NewClient returns a client for baseURL. perSecond <= 0 disables rate
// limiting.
func NewClient(baseURL string, hc TextGetter, perSecond float64) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("showroom: invalid api base url %q", baseURL)
	}

	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &Client{
		base:    u,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		timeout: defaultAPITimeout,
		now:     time.Now,
	}, nil
}

// RoomID resolves a room URL key to its numeric id.
func (c *Client) RoomID(ctx context.Context, roomURLKey string) (int64, error) {
	var resp struct {
		RoomID int64 `json:"room_id"`
	}
	status, err := c.getJSON(ctx, "api/room/status", url.Values{"room_url_key": {roomURLKey}}, &resp)
	if status == http.StatusNotFound {
		return 0, fmt.Errorf("%s: %w", roomURLKey, ErrRoomNotFound)
	}
	if err != nil {
		return 0, err
	}
	if resp.RoomID == 0 {
		return 0, fmt.Errorf("%s: %w", roomURLKey, ErrRoomNotFound)
	}
	return resp.RoomID, nil
}

// IsLive reports whether the room is broadcasting.
func (c *Client) IsLive(ctx context.Context, roomID int64) (bool, error) {
	var resp struct {
		LiveStatus int `json:"live_status"`
	}
	if _, err := c.getJSON(ctx, "api/live/live_info", url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}, &resp); err != nil {
		return false, err
	}
	return resp.LiveStatus == liveStatusOnAir, nil
}

type streamingURL struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// StreamingURL returns the HLS playlist URL of the original-quality stream,
// or the first HLS stream when that label is absent.
func (c *Client) StreamingURL(ctx context.Context, roomID int64) (string, error) {
	var resp struct {
		List []streamingURL `json:"streaming_url_list"`
	}
	params := url.Values{
		"room_id":       {strconv.FormatInt(roomID, 10)},
		"_":             {strconv.FormatInt(c.now().UnixMilli(), 10)},
		"abr_available": {"1"},
	}
	if _, err := c.getJSON(ctx, "api/live/streaming_url", params, &resp); err != nil {
		return "", err
	}
	if u := pickHLS(resp.List); u != "" {
		return u, nil
	}
	return "", ErrNotStreaming
}

func pickHLS(list []streamingURL) string {
	first := ""
	for _, s := range list {
		if s.Type != "hls" || s.URL == "" {
			continue
		}
		if s.Label == "original quality" {
			return s.URL
		}
		if first == "" {
			first = s.URL
		}
	}
	return first
}

// getJSON waits for the limiter, fetches path and decodes the body into v.
// The status code is returned even when it is not 200.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, v any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("showroom: %s: %w", path, err)
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path}).String()

	status, body, err := c.http.GetText(ctx, endpoint, params, c.timeout)
	if err != nil {
		return 0, fmt.Errorf("showroom: %s: %w", path, err)
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("showroom: %s: unexpected status %d", path, status)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return status, fmt.Errorf("showroom: %s: decode: %w", path, err)
	}
	return status, nil
}
