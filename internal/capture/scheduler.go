package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var errEmptySegment = errors.New("empty segment body")

// scheduleLoop drains the queue into at most MaxConcurrentDownloads
// concurrent downloads. It returns after the last in-flight download.
func (s *Session) scheduleLoop(r *run) error {
	sem := semaphore.NewWeighted(int64(s.opts.MaxConcurrentDownloads))
	var wg sync.WaitGroup
	defer wg.Wait()

	// A blocked Acquire must give up as soon as downloading is stopped.
	admit, cancelAdmit := context.WithCancel(r.ctx)
	defer cancelAdmit()
	go func() {
		select {
		case <-r.stopDownloading.Done():
			cancelAdmit()
		case <-admit.Done():
		}
	}()

	for !r.stopDownloading.IsSet() {
		if r.ctx.Err() != nil {
			return nil
		}

		if r.inFlight.Load() > int64(s.opts.MaxPendingDownloads) {
			select {
			case <-r.slotFreed:
			case <-admit.Done():
				return nil
			}
			continue
		}

		seg, ok := r.queue.Pop()
		if !ok {
			if r.fetchDone.IsSet() && r.queue.Len() == 0 {
				return nil
			}
			if !sleepCtx(r.ctx, s.opts.SchedulerIdleDelay, r.stopDownloading.Done()) {
				return nil
			}
			continue
		}

		if err := sem.Acquire(admit, 1); err != nil {
			return nil
		}
		if r.stopDownloading.IsSet() {
			sem.Release(1)
			return nil
		}
		r.inFlight.Add(1)
		s.opts.Metrics.AddDownloadsInFlight(s.opts.Owner, 1)
		wg.Add(1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					s.log.Error("download panicked", "segment", seg.Path, "panic", p)
				}
				r.inFlight.Add(-1)
				s.opts.Metrics.AddDownloadsInFlight(s.opts.Owner, -1)
				sem.Release(1)
				select {
				case r.slotFreed <- struct{}{}:
				default:
				}
				wg.Done()
			}()
			s.downloadSegment(r, seg)
		}()
	}
	return nil
}

// downloadSegment fetches one segment and hands it to the merger, or to the
// unordered policy when its sequence is unknown.
func (s *Session) downloadSegment(r *run, seg Segment) {
	data, err := s.fetchSegment(r, seg)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.stats.failed.Add(1)
		s.opts.Metrics.IncDownloadFailures(s.opts.Owner)
		s.log.Warn("segment download failed", "segment", seg.Path, "err", err)
		return
	}

	r.firstSegment.Set()
	r.downloaded.Add(seg.Path)
	r.stats.downloaded.Add(1)
	s.opts.Metrics.IncSegmentsDownloaded(s.opts.Owner)

	if !seg.Ordered() {
		s.handleUnordered(r, seg, data)
		return
	}
	r.cache.Put(seg.Sequence, data)
}

func (s *Session) fetchSegment(r *run, seg Segment) ([]byte, error) {
	var lastErr error
	attempts := s.opts.SegmentRetries + 1
	for attempt := range attempts {
		if attempt > 0 {
			backoff := time.Duration(attempt) * s.opts.SegmentRetryBackoff
			if !sleepCtx(r.ctx, backoff, nil) {
				return nil, r.ctx.Err()
			}
		}
		data, err := s.opts.Client.GetBytes(r.ctx, seg.URL, nil, s.opts.SegmentTimeout)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = errEmptySegment
		}
		lastErr = err
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		s.log.Debug("segment attempt failed", "segment", seg.Path, "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("%d attempts: %w", attempts, lastErr)
}

func (s *Session) handleUnordered(r *run, seg Segment, data []byte) {
	r.stats.unordered.Add(1)
	s.opts.Metrics.IncSegmentsUnordered(s.opts.Owner)

	switch s.opts.Unordered {
	case UnorderedSideFile:
		path, err := writeSideFile(s.opts.OutputDir, s.opts.Owner, s.opts.Now(), seg.Path, data)
		if err != nil {
			s.log.Error("unordered segment not saved", "segment", seg.Path, "err", err)
			return
		}
		s.log.Warn("unordered segment saved separately", "segment", seg.Path, "path", path)
	default:
		s.log.Warn("unordered segment dropped", "segment", seg.Path, "size", len(data))
	}
}
