package showroom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showroom-recorder/internal/platform/httpclient"
)

func newAPIServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, httpclient.New(srv.Client()), 0)
	require.NoError(t, err)
	return c
}

func TestClient_RoomID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/room/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("room_url_key") {
		case "akb48_official":
			w.Write([]byte(`{"room_id": 61576, "room_name": "AKB48"}`))
		case "garbled":
			w.Write([]byte(`{"room_id":`))
		default:
			http.NotFound(w, r)
		}
	})
	c := newAPIServer(t, mux)

	t.Run("found", func(t *testing.T) {
		id, err := c.RoomID(context.Background(), "akb48_official")
		require.NoError(t, err)
		assert.Equal(t, int64(61576), id)
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := c.RoomID(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("bad_json", func(t *testing.T) {
		_, err := c.RoomID(context.Background(), "garbled")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrRoomNotFound))
	})
}

func TestClient_IsLive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live/live_info", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("room_id") == "1" {
			w.Write([]byte(`{"live_status": 2}`))
			return
		}
		w.Write([]byte(`{"live_status": 1}`))
	})
	c := newAPIServer(t, mux)

	live, err := c.IsLive(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, live)

	live, err = c.IsLive(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestClient_StreamingURL(t *testing.T) {
	responses := map[string]string{
		"1": `{"streaming_url_list":[
			{"type":"lhls","label":"original quality","url":"https://x/lhls.m3u8"},
			{"type":"hls","label":"low quality","url":"https://x/low.m3u8"},
			{"type":"hls","label":"original quality","url":"https://x/orig.m3u8"}]}`,
		"2": `{"streaming_url_list":[{"type":"hls","label":"low quality","url":"https://x/low.m3u8"}]}`,
		"3": `{}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live/streaming_url", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("abr_available") != "1" || q.Get("_") == "" {
			http.Error(w, "missing params", http.StatusBadRequest)
			return
		}
		w.Write([]byte(responses[q.Get("room_id")]))
	})
	c := newAPIServer(t, mux)

	tests := []struct {
		name    string
		roomID  int64
		want    string
		wantErr error
	}{
		{"original_quality", 1, "https://x/orig.m3u8", nil},
		{"fallback_first_hls", 2, "https://x/low.m3u8", nil},
		{"empty_object", 3, "", ErrNotStreaming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.StreamingURL(context.Background(), tt.roomID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live/live_info", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"live_status": 1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, httpclient.New(srv.Client()), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = c.IsLive(ctx, 1)
	require.NoError(t, err)
	_, err = c.IsLive(ctx, 1)
	assert.Error(t, err, "second call exceeds the budget")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_InvalidBase(t *testing.T) {
	_, err := NewClient("not a url", httpclient.New(nil), 0)
	assert.Error(t, err)
}
