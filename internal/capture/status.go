package capture

import "time"

// Status is a point-in-time view of a session.
type Status struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	ManifestURL string    `json:"manifest_url"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	StreamEnded bool      `json:"stream_ended"`

	SegmentsQueued     int   `json:"segments_queued"`
	SegmentsCached     int   `json:"segments_cached"`
	DownloadsInFlight  int64 `json:"downloads_in_flight"`
	SegmentsEnqueued   int64 `json:"segments_enqueued"`
	SegmentsDownloaded int64 `json:"segments_downloaded"`
	DownloadFailures   int64 `json:"download_failures"`
	SegmentsMerged     int64 `json:"segments_merged"`
	SegmentsStale      int64 `json:"segments_stale"`
	SegmentsUnordered  int64 `json:"segments_unordered"`
	ManifestFailures   int64 `json:"manifest_failures"`
	Rotations          int64 `json:"rotations"`
	BytesWritten       int64 `json:"bytes_written"`

	CurrentFile string   `json:"current_file,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// Status reports the active run, or the most recent one if the session is
// no longer running.
func (s *Session) Status() Status {
	s.mu.Lock()
	state := s.state
	r := s.run
	if r == nil {
		r = s.last
	}
	s.mu.Unlock()

	st := Status{
		ID:          s.id,
		Owner:       s.opts.Owner,
		ManifestURL: s.opts.ManifestURL,
		State:       state.String(),
	}
	if r == nil {
		return st
	}

	st.StartedAt = r.startedAt
	st.StreamEnded = r.ended.Load()
	st.SegmentsQueued = r.queue.Len()
	st.SegmentsCached = r.cache.Len()
	st.DownloadsInFlight = r.inFlight.Load()
	st.SegmentsEnqueued = r.stats.enqueued.Load()
	st.SegmentsDownloaded = r.stats.downloaded.Load()
	st.DownloadFailures = r.stats.failed.Load()
	st.SegmentsMerged = r.stats.merged.Load()
	st.SegmentsStale = r.stats.stale.Load()
	st.SegmentsUnordered = r.stats.unordered.Load()
	st.ManifestFailures = r.stats.manifestFailures.Load()
	st.Rotations = r.stats.rotations.Load()
	st.BytesWritten = r.stats.bytesWritten.Load()
	st.CurrentFile = r.out.Path()
	st.Files = r.out.Files()
	return st
}
