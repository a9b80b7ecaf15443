package input

import "github.com/hoedur/hoedur/internal/stream"

// Cursor tracks per-execution, per-stream read positions into an
// Input's concatenated chunk bytes.
// A Cursor is scoped to one execution; the same Input can be replayed
// with a fresh Cursor to get deterministic, repeatable pulls.
type Cursor struct {
	offsets map[stream.ID]int
}

// NewCursor creates a zeroed cursor set.
func NewCursor() *Cursor {
	return &Cursor{offsets: make(map[stream.ID]int)}
}

// Offset returns the current read position for id (0 if untouched).
func (c *Cursor) Offset(id stream.ID) int {
	return c.offsets[id]
}

// Pull advances the cursor for id by up to n bytes and returns the
// bytes read. If the stream would be exhausted, the second return
// value is true and the filled bytes depend on policy: PolicyZero
// zero-pads up to n bytes, PolicyStop returns only what remains
// (which may be empty) and the caller is expected to stop the run.
func (c *Cursor) Pull(in *Input, id stream.ID, n int, policy stream.Policy) ([]byte, bool) {
	buf := in.concatenated(id)
	off := c.offsets[id]
	if off > len(buf) {
		off = len(buf)
	}

	end := off + n
	if end <= len(buf) {
		c.offsets[id] = end
		out := make([]byte, n)
		copy(out, buf[off:end])
		return out, false
	}

	remaining := buf[off:]
	c.offsets[id] = len(buf)

	if policy == stream.PolicyStop {
		out := append([]byte(nil), remaining...)
		return out, true
	}

	out := make([]byte, n)
	copy(out, remaining)
	return out, true
}

// Exhausted reports whether the cursor for id has consumed every
// available chunk byte.
func (c *Cursor) Exhausted(in *Input, id stream.ID) bool {
	return c.offsets[id] >= in.Len(id)
}
