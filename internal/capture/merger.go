package capture

import (
	"log/slog"
	"time"

	"showroom-recorder/internal/platform/metrics"
)

// merger writes cached segments to the output in strictly increasing
// sequence order. A missing sequence is waited for gapLimit passes before
// the output is rotated and the next available sequence becomes the new
// base.
type merger struct {
	cache   *reorderCache
	out     *outputFile
	stats   *runStats
	log     *slog.Logger
	metrics *metrics.Metrics
	room    string

	gapLimit int

	last       int64
	hasLast    bool
	waitingFor int64
	gapRetries int
}

func newMerger(s *Session, r *run) *merger {
	return &merger{
		cache:    r.cache,
		out:      r.out,
		stats:    &r.stats,
		log:      s.log.With("component", "merger"),
		metrics:  s.opts.Metrics,
		room:     s.opts.Owner,
		gapLimit: s.opts.GapRetryLimit,
	}
}

// pass makes one sweep over the cache. It stops at an unresolved gap and
// returns only output I/O errors.
func (m *merger) pass() error {
	for _, key := range m.cache.Keys() {
		data, ok := m.cache.Get(key)
		if !ok {
			continue
		}

		switch {
		case m.hasLast && key <= m.last:
			m.cache.Delete(key)
			m.stats.stale.Add(1)
			m.metrics.IncSegmentsStale(m.room)
			m.log.Warn("stale segment discarded", "sequence", key, "last", m.last)

		case !m.hasLast || key == m.last+1:
			if err := m.write(key, data); err != nil {
				return err
			}

		default:
			if m.gapRetries == 0 || m.waitingFor != m.last+1 {
				m.waitingFor = m.last + 1
				m.gapRetries = 1
			} else {
				m.gapRetries++
			}
			if m.gapRetries < m.gapLimit {
				m.log.Debug("waiting for missing segment", "missing", m.waitingFor, "next", key, "pass", m.gapRetries)
				return nil
			}

			m.log.Warn("missing segment never arrived, rotating output",
				"missing", m.waitingFor, "next", key, "passes", m.gapRetries)
			if err := m.out.Rotate(); err != nil {
				return err
			}
			m.stats.rotations.Add(1)
			m.metrics.IncRotations(m.room)
			m.hasLast = false
			m.clearGap()
			if err := m.write(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *merger) write(key int64, data []byte) error {
	if err := m.out.Write(data); err != nil {
		return err
	}
	m.cache.Delete(key)
	m.last, m.hasLast = key, true
	if m.gapRetries > 0 && key == m.waitingFor {
		m.clearGap()
	}
	m.stats.merged.Add(1)
	m.stats.bytesWritten.Add(int64(len(data)))
	m.metrics.SegmentMerged(m.room, len(data))
	return nil
}

func (m *merger) clearGap() {
	m.waitingFor = 0
	m.gapRetries = 0
}

// mergeLoop waits for the first segment, then merges every MergeInterval
// until downloads are done and the cache is empty. The output is closed on
// every exit path.
func (s *Session) mergeLoop(r *run) (err error) {
	m := newMerger(s, r)
	defer func() {
		if cerr := r.out.Close(); cerr != nil {
			s.log.Error("closing output failed", "err", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	if !s.waitFirst(r) {
		return nil
	}

	for {
		if err := m.pass(); err != nil {
			s.log.Error("merge failed", "err", err)
			return err
		}
		if r.downloadsDone.IsSet() && r.cache.Len() == 0 {
			return nil
		}

		// Wake early the first time downloads finish so the final drain
		// does not wait a full interval.
		var done <-chan struct{}
		if !r.downloadsDone.IsSet() {
			done = r.downloadsDone.Done()
		}
		t := time.NewTimer(s.opts.MergeInterval)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return nil
		case <-done:
		case <-t.C:
		}
		t.Stop()
	}
}

// waitFirst blocks until the first segment lands, downloads finish, or
// FirstSegmentTimeout elapses, then allows MergeGrace for stragglers.
// It reports false on cancellation.
func (s *Session) waitFirst(r *run) bool {
	t := time.NewTimer(s.opts.FirstSegmentTimeout)
	defer t.Stop()
	select {
	case <-r.firstSegment.Done():
	case <-r.downloadsDone.Done():
	case <-t.C:
		s.log.Warn("no segment downloaded yet", "waited", s.opts.FirstSegmentTimeout)
	case <-r.ctx.Done():
		return false
	}
	return sleepCtx(r.ctx, s.opts.MergeGrace, nil)
}
