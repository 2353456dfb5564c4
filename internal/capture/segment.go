package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// NoSequence marks a segment whose path carries no recognisable sequence
// number. Such segments cannot take part in ordered merging.
const NoSequence int64 = -1

// Segment is one media chunk listed by the manifest.
type Segment struct {
	// Path is the reference exactly as it appears in the manifest and is the
	// identity used for de-duplication.
	Path string
	// URL is Path resolved against the manifest URL.
	URL      string
	Duration float64
	Sequence int64
}

// Ordered reports whether the segment has a usable sequence number.
func (s Segment) Ordered() bool {
	return s.Sequence != NoSequence
}

// defaultSequencePatterns are tried in order; the first capture group is the
// sequence number. Paths look like ".../media_1080p-1234.ts".
var defaultSequencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`-(\d+)\.ts$`),
	regexp.MustCompile(`(\d+)\.ts$`),
}

// SequenceParser extracts ordering keys from segment paths.
type SequenceParser struct {
	patterns []*regexp.Regexp
}

// NewSequenceParser compiles pattern, which must contain exactly one capture
// group matching the decimal sequence number. An empty pattern selects the
// defaults (trailing "-<n>.ts", then any trailing "<n>.ts").
func NewSequenceParser(pattern string) (*SequenceParser, error) {
	if pattern == "" {
		return &SequenceParser{patterns: defaultSequencePatterns}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("sequence pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("sequence pattern %q: want exactly one capture group, got %d", pattern, re.NumSubexp())
	}
	return &SequenceParser{patterns: []*regexp.Regexp{re}}, nil
}

// Sequence returns the sequence number encoded in path, or NoSequence.
// Query strings and fragments are ignored.
func (p *SequenceParser) Sequence(path string) int64 {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		return n
	}
	return NoSequence
}

// resolveURL resolves a manifest path against the manifest URL. Absolute
// paths are returned unchanged.
func resolveURL(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil || base == nil {
		return path
	}
	return base.ResolveReference(ref).String()
}
