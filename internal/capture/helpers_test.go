package capture

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"showroom-recorder/internal/playlist"
)

const testManifestURL = "http://cdn.test/live/room/playlist.m3u8"

// fakeClient serves scripted manifests and in-memory segments.
type fakeClient struct {
	mu sync.Mutex

	manifests []string
	// after the scripted manifests run out, polls get this status.
	exhaustedStatus int
	polls           int

	segments map[string][]byte
	failures map[string]int
	delay    time.Duration

	gets        map[string]int
	inFlight    int
	maxInFlight int
}

func newFakeClient(manifests ...string) *fakeClient {
	return &fakeClient{
		manifests:       manifests,
		exhaustedStatus: http.StatusNotFound,
		segments:        make(map[string][]byte),
		failures:        make(map[string]int),
		gets:            make(map[string]int),
	}
}

func (c *fakeClient) GetText(_ context.Context, _ string, _ url.Values, _ time.Duration) (int, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.polls
	c.polls++
	if i < len(c.manifests) {
		return http.StatusOK, c.manifests[i], nil
	}
	if c.exhaustedStatus == http.StatusOK && len(c.manifests) > 0 {
		return http.StatusOK, c.manifests[len(c.manifests)-1], nil
	}
	return c.exhaustedStatus, "", nil
}

func (c *fakeClient) GetBytes(ctx context.Context, rawURL string, _ url.Values, _ time.Duration) ([]byte, error) {
	c.mu.Lock()
	c.gets[rawURL]++
	c.inFlight++
	c.maxInFlight = max(c.maxInFlight, c.inFlight)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures[rawURL] > 0 {
		c.failures[rawURL]--
		return nil, fmt.Errorf("GET %s: connection reset", rawURL)
	}
	data, ok := c.segments[rawURL]
	if !ok {
		return nil, fmt.Errorf("GET %s: status 404", rawURL)
	}
	return data, nil
}

func (c *fakeClient) pollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func (c *fakeClient) getCount(rawURL string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets[rawURL]
}

func (c *fakeClient) totalGets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.gets {
		n += v
	}
	return n
}

func (c *fakeClient) peakInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

func segName(seq int) string { return fmt.Sprintf("media_1-%d.ts", seq) }

func segURL(seq int) string { return "http://cdn.test/live/room/" + segName(seq) }

func segBody(seq int) []byte { return []byte(fmt.Sprintf("[seg %d]", seq)) }

// addSegments registers bodies for the given sequences.
func (c *fakeClient) addSegments(seqs ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range seqs {
		c.segments[segURL(n)] = segBody(n)
	}
}

func manifest(ended bool, seqs ...int) string {
	p := playlist.Playlist{Ended: ended}
	if len(seqs) > 0 {
		p.MediaSequence = int64(seqs[0])
	}
	for _, n := range seqs {
		p.Entries = append(p.Entries, playlist.Entry{Path: segName(n), Duration: 2})
	}
	return playlist.Build(p)
}

func testOptions(t *testing.T, c Client) Options {
	t.Helper()
	return Options{
		Owner:       "room",
		ManifestURL: testManifestURL,
		OutputDir:   t.TempDir(),
		Client:      c,

		ManifestTimeout:    time.Second,
		ManifestRetryDelay: 5 * time.Millisecond,
		MinPollDelay:       5 * time.Millisecond,
		MaxPollDelay:       5 * time.Millisecond,
		FallbackPollDelay:  5 * time.Millisecond,

		SchedulerIdleDelay:  2 * time.Millisecond,
		SegmentTimeout:      time.Second,
		SegmentRetryBackoff: time.Millisecond,

		FirstSegmentTimeout: time.Second,
		MergeGrace:          20 * time.Millisecond,
		MergeInterval:       5 * time.Millisecond,

		Stop: StopTimeouts{
			Fetch:     time.Second,
			Downloads: time.Second,
			Flush:     time.Second,
			LoopGrace: time.Second,
		},
	}
}

// outputFiles returns the .ts files in dir sorted by name.
func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	slices.Sort(matches)
	return matches
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func concatBodies(seqs ...int) string {
	var b strings.Builder
	for _, n := range seqs {
		b.Write(segBody(n))
	}
	return b.String()
}
