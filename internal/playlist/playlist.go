// Package playlist parses and renders HLS media playlists.
package playlist

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/grafov/m3u8"
)

var (
	// ErrNotPlaylist is returned when the document does not start with #EXTM3U.
	ErrNotPlaylist = errors.New("playlist: missing #EXTM3U header")

	// ErrMasterPlaylist is returned for multivariant playlists; only media
	// playlists carry segments.
	ErrMasterPlaylist = errors.New("playlist: master playlist has no media segments")
)

// Entry is one media segment reference as listed in the playlist.
type Entry struct {
	Path     string
	Duration float64
}

// Playlist is the parsed form of an HLS media playlist.
type Playlist struct {
	MediaSequence  int64
	TargetDuration int
	Ended          bool
	Entries        []Entry
}

// TotalDuration sums the EXTINF durations of all entries.
func (p *Playlist) TotalDuration() float64 {
	total := 0.0
	for _, e := range p.Entries {
		total += e.Duration
	}
	return total
}

// Parse reads a media playlist. Unknown tags are ignored, as are URI lines
// without a preceding #EXTINF.
func Parse(text string) (*Playlist, error) {
	if !strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), "#EXTM3U") {
		return nil, ErrNotPlaylist
	}

	decoded, kind, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return nil, fmt.Errorf("playlist: decode: %w", err)
	}
	if kind == m3u8.MASTER {
		return nil, ErrMasterPlaylist
	}
	media, ok := decoded.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("playlist: unexpected playlist type %T", decoded)
	}

	p := &Playlist{
		MediaSequence:  int64(media.SeqNo),
		TargetDuration: int(math.Ceil(float64(media.TargetDuration))),
		Ended:          media.Closed,
		Entries:        make([]Entry, 0, media.Count()),
	}
	for _, seg := range media.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		p.Entries = append(p.Entries, Entry{Path: seg.URI, Duration: seg.Duration})
	}
	return p, nil
}

// Build renders p as a live media playlist. If p.Ended is true,
// #EXT-X-ENDLIST is appended. TargetDuration is derived from the entries
// when unset.
func Build(p Playlist) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	target := p.TargetDuration
	if target <= 0 {
		target = targetDuration(p.Entries)
	}

	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", target))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n\n", p.MediaSequence))

	for _, e := range p.Entries {
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", e.Duration))
		b.WriteString(e.Path)
		b.WriteString("\n")
	}

	if p.Ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// targetDuration returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds (integer).
func targetDuration(entries []Entry) int {
	max := 0.0
	for _, e := range entries {
		if e.Duration > max {
			max = e.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
