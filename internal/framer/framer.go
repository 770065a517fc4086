// Package framer splits a byte stream into newline-delimited lines.
package framer

import (
	"bytes"
	"io"
)

// DefaultMaxLine is the longest line kept when no limit is configured.
const DefaultMaxLine = 1 << 20

// Framer turns arbitrary chunks into complete lines, holding the partial
// line between calls. It is not safe for concurrent use.
type Framer struct {
	rest       []byte
	maxLine    int
	discarding bool
	dropped    int
}

// New returns a Framer that discards lines longer than maxLine bytes.
func New(maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &Framer{maxLine: maxLine}
}

// Feed consumes chunk and returns every line it completes, without the
// trailing "\n" or "\r\n". Blank lines are skipped. The returned slices are
// owned by the caller.
func (f *Framer) Feed(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if !f.discarding {
				f.rest = append(f.rest, chunk...)
				if len(f.rest) > f.maxLine {
					f.rest = nil
					f.discarding = true
					f.dropped++
				}
			}
			break
		}

		seg := chunk[:i]
		chunk = chunk[i+1:]
		if f.discarding {
			f.discarding = false
			continue
		}

		var line []byte
		if len(f.rest) > 0 {
			line = append(f.rest, seg...)
			f.rest = nil
		} else {
			line = append([]byte(nil), seg...)
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})

		if len(line) > f.maxLine {
			f.dropped++
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Finish returns the unterminated fragment left at end of stream, or nil if
// there is none, and resets the Framer.
func (f *Framer) Finish() []byte {
	rest := bytes.TrimSuffix(f.rest, []byte{'\r'})
	f.rest = nil
	f.discarding = false
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	return rest
}

// Buffered reports how many bytes of partial line are held.
func (f *Framer) Buffered() int { return len(f.rest) }

// Dropped reports how many oversized lines were discarded.
func (f *Framer) Dropped() int { return f.dropped }

// Reader pulls lines lazily from an io.Reader. Next only blocks inside the
// underlying Read.
type Reader struct {
	src      io.Reader
	f        *Framer
	buf      []byte
	queue    [][]byte
	err      error
	finished bool
	trailing bool
}

// NewReader wraps src with a line framer.
func NewReader(src io.Reader, maxLine int) *Reader {
	return &Reader{src: src, f: New(maxLine), buf: make([]byte, 32*1024)}
}

// Next returns the next line. Once the source fails or ends, a non-empty
// unterminated fragment is returned one last time with Trailing reporting
// true; every later call returns the source error (io.EOF on a clean close).
func (r *Reader) Next() ([]byte, error) {
	for {
		if len(r.queue) > 0 {
			line := r.queue[0]
			r.queue = r.queue[1:]
			return line, nil
		}
		if r.err != nil {
			if !r.finished {
				r.finished = true
				if frag := r.f.Finish(); frag != nil {
					r.trailing = true
					return frag, nil
				}
			}
			r.trailing = false
			return nil, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.queue = r.f.Feed(r.buf[:n])
		}
		if err != nil {
			r.err = err
		}
	}
}

// Trailing reports whether the last line returned by Next was an
// unterminated fragment from the end of the stream.
func (r *Reader) Trailing() bool { return r.trailing }

// Dropped reports how many oversized lines were discarded.
func (r *Reader) Dropped() int { return r.f.Dropped() }
