package protocol

import (
	"bytes"
	"errors"
)

var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineFramer reassembles newline terminated records from arbitrary read chunks.
// It is not safe for concurrent use; the relay keeps one per connection.
type LineFramer struct {
	buf      []byte
	max      int
	overflow bool
}

// NewLineFramer creates a framer accepting lines up to max bytes (terminator excluded).
// max <= 0 selects DefaultMaxLineLength.
func NewLineFramer(max int) *LineFramer {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	return &LineFramer{max: max}
}

// Max returns the maximum accepted line length
func (f *LineFramer) Max() int {
	return f.max
}

// Buffered returns the number of bytes held for an unterminated line
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

// Feed appends a chunk and returns every line it completes, without terminators.
// When an unterminated line grows past max, it is discarded up to its next
// terminator and ErrLineTooLong is returned once alongside the completed lines.
func (f *LineFramer) Feed(chunk []byte) ([]string, error) {
	var (
		lines []string
		err   error
	)

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')

		if idx < 0 {
			if !f.overflow {
				f.buf = append(f.buf, chunk...)
				if len(f.buf) > f.max {
					f.buf = f.buf[:0]
					f.overflow = true
					err = ErrLineTooLong
				}
			}
			break
		}

		part := chunk[:idx]
		chunk = chunk[idx+1:]

		if f.overflow {
			// tail of a discarded line
			f.overflow = false
			continue
		}

		if len(f.buf)+len(part) > f.max {
			f.buf = f.buf[:0]
			err = ErrLineTooLong
			continue
		}

		line := string(bytes.TrimSuffix(append(f.buf, part...), []byte{'\r'}))
		f.buf = f.buf[:0]
		lines = append(lines, line)
	}

	return lines, err
}

