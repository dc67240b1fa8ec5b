package engine

import (
	"io"
)

// Rope is a persistent, shareable byte sequence built from owned and
// borrowed segments (the "Rope / chunked byte buffer"). It is the
// value type engine tasks use for file contents and generated artifacts, so
// large outputs can be assembled — and shared structurally across the
// dependency graph, since a Vc[Rope] clone is just a slice-of-segments
// copy — without copying the underlying bytes. It follows the same
// append-without-copy discipline internal/cacheitem/create.go uses when
// streaming tar entries: a slice of byte slices, since Go slices are
// already GC-managed views over their backing arrays.
type Rope struct {
	segments [][]byte
	size     int
}

// NewRope returns an empty rope.
func NewRope() Rope { return Rope{} }

// RopeFromBytes wraps b as a single borrowed segment. b must not be mutated
// by the caller afterward; ownership of the backing array is effectively
// transferred to the rope, matching the "borrowed segment" half of the
// spec's byte-sequence model.
func RopeFromBytes(b []byte) Rope {
	if len(b) == 0 {
		return Rope{}
	}
	return Rope{segments: [][]byte{b}, size: len(b)}
}

// RopeFromString copies s into a single segment.
func RopeFromString(s string) Rope {
	return RopeFromBytes([]byte(s))
}

// Len returns the total byte length across all segments.
func (r Rope) Len() int { return r.size }

// Concat returns a new rope whose segments are r's followed by other's. The
// backing arrays of both ropes are shared, not copied: this is the
// structural-sharing property large build outputs rely on.
func (r Rope) Concat(other Rope) Rope {
	if r.size == 0 {
		return other
	}
	if other.size == 0 {
		return r
	}
	segs := make([][]byte, 0, len(r.segments)+len(other.segments))
	segs = append(segs, r.segments...)
	segs = append(segs, other.segments...)
	return Rope{segments: segs, size: r.size + other.size}
}

// Bytes materializes the rope into a single contiguous slice. This is the
// one place copying is unavoidable (callers that only need to stream should
// use Reader instead).
func (r Rope) Bytes() []byte {
	out := make([]byte, 0, r.size)
	for _, seg := range r.segments {
		out = append(out, seg...)
	}
	return out
}

// Reader returns an io.Reader that streams the rope's segments in order
// without materializing the whole thing, for handing to a tar/zstd writer.
func (r Rope) Reader() io.Reader {
	return &ropeReader{segments: r.segments}
}

type ropeReader struct {
	segments [][]byte
	offset   int
}

func (rr *ropeReader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if len(rr.segments) == 0 {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		seg := rr.segments[0]
		n := copy(p[total:], seg[rr.offset:])
		rr.offset += n
		total += n
		if rr.offset == len(seg) {
			rr.segments = rr.segments[1:]
			rr.offset = 0
		}
	}
	return total, nil
}
