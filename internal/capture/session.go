package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned by Wait when no run is in progress.
	ErrNotRunning = errors.New("session not running")
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// runStats are the per-run counters exposed through Status.
type runStats struct {
	enqueued         atomic.Int64
	downloaded       atomic.Int64
	failed           atomic.Int64
	merged           atomic.Int64
	bytesWritten     atomic.Int64
	stale            atomic.Int64
	unordered        atomic.Int64
	rotations        atomic.Int64
	manifestFailures atomic.Int64
}

// run is the state owned by one Start call. A fresh one is built on every
// Start so nothing leaks between runs.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	queue      *segmentQueue
	seen       *pathSet
	downloaded *pathSet
	cache      *reorderCache
	out        *outputFile

	stopFetching    *latch
	stopDownloading *latch
	fetchDone       *latch
	downloadsDone   *latch
	mergeDone       *latch
	firstSegment    *latch

	inFlight  atomic.Int64
	slotFreed chan struct{}
	ended     atomic.Bool

	startedAt time.Time
	stats     runStats
}

// Session captures one segmented live stream into one or more files.
type Session struct {
	id   string
	opts Options
	base *url.URL
	seq  *SequenceParser
	log  *slog.Logger

	mu    sync.Mutex
	state State
	run   *run
	last  *run
}

// New validates opts and returns an idle session.
func New(opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if opts.Owner == "" {
		return nil, errors.New("capture: owner is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("capture: output dir is required")
	}
	if opts.Client == nil {
		return nil, errors.New("capture: client is required")
	}
	base, err := url.Parse(opts.ManifestURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("capture: invalid manifest url %q", opts.ManifestURL)
	}
	seq, err := NewSequenceParser(opts.SequencePattern)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	id := uuid.NewString()
	return &Session{
		id:   id,
		opts: opts,
		base: base,
		seq:  seq,
		log:  opts.Logger.With("room", opts.Owner, "session_id", id),
	}, nil
}

// ID is the random identifier assigned by New.
func (s *Session) ID() string { return s.id }

// Owner is the room the session records.
func (s *Session) Owner() string { return s.opts.Owner }

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start captures the stream until it ends, ctx is cancelled, or Stop is
// called. It returns once the fetch, schedule and merge loops have all
// terminated. The only error it reports besides ErrAlreadyRunning is an
// output I/O failure from the merger.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := s.newRun(ctx)
	s.run = r
	s.state = StateActive
	s.mu.Unlock()

	s.log.Info("capture started", "manifest", s.opts.ManifestURL)

	var g errgroup.Group
	g.Go(func() error { return s.guard("fetch", r.fetchDone, func() error { return s.fetchLoop(r) }) })
	g.Go(func() error { return s.guard("schedule", r.downloadsDone, func() error { return s.scheduleLoop(r) }) })
	g.Go(func() error { return s.guard("merge", r.mergeDone, func() error { return s.mergeLoop(r) }) })
	err := g.Wait()

	r.cancel()
	s.finish(r)

	st := &r.stats
	s.log.Info("capture finished",
		"segments_downloaded", st.downloaded.Load(),
		"segments_merged", st.merged.Load(),
		"download_failures", st.failed.Load(),
		"rotations", st.rotations.Load(),
		"files", len(r.out.Files()),
	)
	return err
}

// Stop drains the active run in phases: stop polling, let in-flight
// downloads finish, let the merger flush the cache, then cancel whatever
// is left. Each phase is bounded by Options.Stop and by ctx. Stop on a
// session that is not running does nothing.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDraining
	s.mu.Unlock()

	t := s.opts.Stop
	s.phase("stop fetching", func() {
		r.stopFetching.Set()
		s.await(ctx, r.fetchDone, t.Fetch, "fetch loop")
	})
	s.phase("stop downloading", func() {
		r.stopDownloading.Set()
		s.await(ctx, r.downloadsDone, t.Downloads, "downloads")
	})
	s.phase("flush cache", func() {
		if r.cache.Len() > 0 {
			s.awaitDrain(ctx, r, t.Flush)
		}
	})
	s.phase("cancel", func() {
		r.cancel()
		for _, l := range []struct {
			name string
			l    *latch
		}{{"fetch loop", r.fetchDone}, {"downloads", r.downloadsDone}, {"merge loop", r.mergeDone}} {
			s.await(ctx, l.l, t.LoopGrace, l.name)
		}
	})
	s.phase("clear", func() { s.finish(r) })

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// Wait blocks until the active run has fully terminated.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	for _, l := range []*latch{r.fetchDone, r.downloadsDone, r.mergeDone} {
		select {
		case <-l.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) newRun(parent context.Context) *run {
	ctx, cancel := context.WithCancel(parent)
	return &run{
		ctx:             ctx,
		cancel:          cancel,
		queue:           &segmentQueue{},
		seen:            newPathSet(),
		downloaded:      newPathSet(),
		cache:           newReorderCache(),
		out:             newOutputFile(s.opts.OutputDir, s.opts.Owner, s.opts.Now, s.log),
		stopFetching:    newLatch(),
		stopDownloading: newLatch(),
		fetchDone:       newLatch(),
		downloadsDone:   newLatch(),
		mergeDone:       newLatch(),
		firstSegment:    newLatch(),
		slotFreed:       make(chan struct{}, 1),
		startedAt:       s.opts.Now(),
	}
}

// finish releases the run's buffers and detaches it. Later Status calls
// report its final counters.
func (s *Session) finish(r *run) {
	r.queue.Clear()
	r.cache.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == r {
		s.run = nil
		s.last = r
		s.state = StateStopped
	}
}

// guard runs a loop body, converting a panic into a logged error, and
// always fires the loop's completion latch.
func (s *Session) guard(name string, done *latch, fn func() error) (err error) {
	defer done.Set()
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("loop panicked", "loop", name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s loop panicked: %v", name, p)
		}
	}()
	return fn()
}

func (s *Session) phase(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("stop phase failed", "phase", name, "panic", p)
		}
	}()
	fn()
}

func (s *Session) await(ctx context.Context, l *latch, timeout time.Duration, what string) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.Done():
		return true
	case <-t.C:
		s.log.Warn("timed out waiting during stop", "waiting_for", what, "timeout", timeout)
	case <-ctx.Done():
		s.log.Warn("stop interrupted", "waiting_for", what, "err", ctx.Err())
	}
	return false
}

func (s *Session) awaitDrain(ctx context.Context, r *run, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(drainPollInterval(s.opts.MergeInterval))
	defer tick.Stop()
	for r.cache.Len() > 0 {
		select {
		case <-r.mergeDone.Done():
			return
		case <-deadline.C:
			s.log.Warn("cache not drained before stop timeout", "remaining", r.cache.Len(), "timeout", timeout)
			return
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func drainPollInterval(mergeInterval time.Duration) time.Duration {
	d := mergeInterval / 4
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// sleepCtx waits for d. It returns false if ctx is done or stop is closed
// first. A nil stop never fires.
func sleepCtx(ctx context.Context, d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
