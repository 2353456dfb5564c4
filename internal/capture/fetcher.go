package capture

import (
	"fmt"
	"net/http"
	"time"

	"showroom-recorder/internal/playlist"
)

// fetchLoop polls the manifest and queues every segment path it has not
// seen before. Five consecutive failures mean the broadcast is over.
func (s *Session) fetchLoop(r *run) error {
	failures := 0
	for {
		if r.stopFetching.IsSet() || r.ctx.Err() != nil {
			return nil
		}

		total, ended, err := s.poll(r)
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			failures++
			r.stats.manifestFailures.Add(1)
			s.opts.Metrics.IncManifestFailures(s.opts.Owner)
			s.log.Warn("manifest fetch failed", "attempt", failures, "limit", s.opts.ManifestFailureLimit, "err", err)

			if failures >= s.opts.ManifestFailureLimit {
				s.log.Info("stream ended", "reason", "manifest unavailable", "failures", failures)
				r.ended.Store(true)
				r.stopFetching.Set()
				r.stopDownloading.Set()
				return nil
			}
			if !sleepCtx(r.ctx, s.opts.ManifestRetryDelay, r.stopFetching.Done()) {
				return nil
			}
			continue
		}
		failures = 0

		if ended {
			// Remaining queued segments are still downloaded.
			s.log.Info("stream ended", "reason", "endlist")
			r.ended.Store(true)
			return nil
		}
		if !sleepCtx(r.ctx, s.pollDelay(total), r.stopFetching.Done()) {
			return nil
		}
	}
}

// poll fetches and parses the manifest once. total is the summed duration
// of the newly queued segments.
func (s *Session) poll(r *run) (total float64, ended bool, err error) {
	status, body, err := s.opts.Client.GetText(r.ctx, s.opts.ManifestURL, nil, s.opts.ManifestTimeout)
	if err != nil {
		return 0, false, fmt.Errorf("get manifest: %w", err)
	}
	if status != http.StatusOK {
		return 0, false, fmt.Errorf("get manifest: unexpected status %d", status)
	}
	pl, err := playlist.Parse(body)
	if err != nil {
		return 0, false, fmt.Errorf("parse manifest: %w", err)
	}

	added := 0
	for _, e := range pl.Entries {
		if !r.seen.Add(e.Path) {
			continue
		}
		r.queue.Push(Segment{
			Path:     e.Path,
			URL:      resolveURL(s.base, e.Path),
			Duration: e.Duration,
			Sequence: s.seq.Sequence(e.Path),
		})
		total += e.Duration
		added++
	}
	if added > 0 {
		r.stats.enqueued.Add(int64(added))
		s.opts.Metrics.AddSegmentsEnqueued(s.opts.Owner, added)
		s.log.Debug("segments queued", "count", added, "duration", total)
	}
	return total, pl.Ended, nil
}

// pollDelay is half the newly listed media minus a second, clamped to
// [MinPollDelay, MaxPollDelay]. With nothing new it is FallbackPollDelay.
func (s *Session) pollDelay(total float64) time.Duration {
	return pollDelay(total, s.opts.MinPollDelay, s.opts.MaxPollDelay, s.opts.FallbackPollDelay)
}

func pollDelay(total float64, lo, hi, fallback time.Duration) time.Duration {
	if total <= 0 {
		return fallback
	}
	d := time.Duration((total/2 - 1) * float64(time.Second))
	return min(max(d, lo), hi)
}
