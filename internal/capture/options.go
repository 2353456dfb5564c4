package capture

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"showroom-recorder/internal/platform/logger"
	"showroom-recorder/internal/platform/metrics"
)

// Client is the HTTP capability the engine consumes.
type Client interface {
	// GetText returns the status code and body. Non-200 is not an error.
	GetText(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (int, string, error)
	// GetBytes returns the body of a 200 response, or an error.
	GetBytes(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) ([]byte, error)
}

// UnorderedPolicy decides what happens to segments whose path carries no
// sequence number.
type UnorderedPolicy int

const (
	// UnorderedDrop downloads the segment, logs it and discards the bytes.
	UnorderedDrop UnorderedPolicy = iota
	// UnorderedSideFile writes the bytes to their own file next to the
	// ordered output so no footage is lost.
	UnorderedSideFile
)

func (p UnorderedPolicy) String() string {
	switch p {
	case UnorderedDrop:
		return "drop"
	case UnorderedSideFile:
		return "side-file"
	default:
		return "unknown"
	}
}

// ParseUnorderedPolicy maps "drop" and "side-file" to their policy.
// Anything else yields UnorderedDrop and false.
func ParseUnorderedPolicy(s string) (UnorderedPolicy, bool) {
	switch s {
	case "drop", "":
		return UnorderedDrop, true
	case "side-file":
		return UnorderedSideFile, true
	default:
		return UnorderedDrop, false
	}
}

// StopTimeouts bounds each phase of Session.Stop.
type StopTimeouts struct {
	Fetch     time.Duration
	Downloads time.Duration
	Flush     time.Duration
	LoopGrace time.Duration
}

// Options configures a Session. Zero fields take the values from
// DefaultOptions.
type Options struct {
	// Owner names the room; it prefixes every output file.
	Owner       string
	ManifestURL string
	OutputDir   string

	Client  Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// SequencePattern overrides the sequence regular expression; see
	// NewSequenceParser.
	SequencePattern string
	Unordered       UnorderedPolicy

	ManifestTimeout      time.Duration
	ManifestRetryDelay   time.Duration
	ManifestFailureLimit int
	MinPollDelay         time.Duration
	MaxPollDelay         time.Duration
	FallbackPollDelay    time.Duration

	MaxConcurrentDownloads int
	MaxPendingDownloads    int
	SchedulerIdleDelay     time.Duration

	// SegmentRetries is the number of extra attempts per segment. Negative
	// disables retries.
	SegmentRetries      int
	SegmentTimeout      time.Duration
	SegmentRetryBackoff time.Duration

	FirstSegmentTimeout time.Duration
	MergeGrace          time.Duration
	MergeInterval       time.Duration
	GapRetryLimit       int

	Stop StopTimeouts

	// Now is the clock used for output file names.
	Now func() time.Time
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		ManifestTimeout:      2 * time.Second,
		ManifestRetryDelay:   time.Second,
		ManifestFailureLimit: 5,
		MinPollDelay:         time.Second,
		MaxPollDelay:         10 * time.Second,
		FallbackPollDelay:    4 * time.Second,

		MaxConcurrentDownloads: 8,
		MaxPendingDownloads:    20,
		SchedulerIdleDelay:     500 * time.Millisecond,

		SegmentTimeout:      2 * time.Second,
		SegmentRetries:      3,
		SegmentRetryBackoff: 500 * time.Millisecond,

		FirstSegmentTimeout: 30 * time.Second,
		MergeGrace:          2 * time.Second,
		MergeInterval:       2 * time.Second,
		GapRetryLimit:       3,

		Stop: StopTimeouts{
			Fetch:     5 * time.Second,
			Downloads: 30 * time.Second,
			Flush:     10 * time.Second,
			LoopGrace: 2 * time.Second,
		},

		Now: time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()

	durations := []struct{ v, def *time.Duration }{
		{&o.ManifestTimeout, &d.ManifestTimeout},
		{&o.ManifestRetryDelay, &d.ManifestRetryDelay},
		{&o.MinPollDelay, &d.MinPollDelay},
		{&o.MaxPollDelay, &d.MaxPollDelay},
		{&o.FallbackPollDelay, &d.FallbackPollDelay},
		{&o.SchedulerIdleDelay, &d.SchedulerIdleDelay},
		{&o.SegmentTimeout, &d.SegmentTimeout},
		{&o.SegmentRetryBackoff, &d.SegmentRetryBackoff},
		{&o.FirstSegmentTimeout, &d.FirstSegmentTimeout},
		{&o.MergeGrace, &d.MergeGrace},
		{&o.MergeInterval, &d.MergeInterval},
		{&o.Stop.Fetch, &d.Stop.Fetch},
		{&o.Stop.Downloads, &d.Stop.Downloads},
		{&o.Stop.Flush, &d.Stop.Flush},
		{&o.Stop.LoopGrace, &d.Stop.LoopGrace},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}

	if o.MaxPollDelay < o.MinPollDelay {
		o.MaxPollDelay = o.MinPollDelay
	}
	if o.ManifestFailureLimit <= 0 {
		o.ManifestFailureLimit = d.ManifestFailureLimit
	}
	if o.MaxConcurrentDownloads <= 0 {
		o.MaxConcurrentDownloads = d.MaxConcurrentDownloads
	}
	if o.MaxPendingDownloads <= 0 {
		o.MaxPendingDownloads = d.MaxPendingDownloads
	}
	switch {
	case o.SegmentRetries == 0:
		o.SegmentRetries = d.SegmentRetries
	case o.SegmentRetries < 0:
		o.SegmentRetries = 0
	}
	if o.GapRetryLimit <= 0 {
		o.GapRetryLimit = d.GapRetryLimit
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}
