package supervisor

import (
	"bytes"
	"iter"
)

// LineBuffer accumulates raw output and splits it into complete lines.
// A partial trailing line stays buffered until its newline arrives.
type LineBuffer struct {
	buf []byte
}

// Write appends p to the buffer. It never fails.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Lines yields every complete line currently buffered, without its line
// terminator, consuming each one as it is yielded. Stopping early leaves the
// rest buffered, so the sequence can be ranged over again later.
func (b *LineBuffer) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(b.buf, '\n')
			if i < 0 {
				return
			}
			line := string(bytes.TrimSuffix(b.buf[:i], []byte{'\r'}))
			b.buf = b.buf[i+1:]
			if !yield(line) {
				return
			}
		}
	}
}

// Pending returns the buffered partial line.
func (b *LineBuffer) Pending() string {
	return string(b.buf)
}

// Flush returns and clears the buffered partial line. It is used at EOF when
// the final line has no terminator.
func (b *LineBuffer) Flush() string {
	rest := string(bytes.TrimSuffix(b.buf, []byte{'\r'}))
	b.buf = nil
	return rest
}
