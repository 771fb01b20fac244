package watching

import (
	"bytes"
	"io"
)

// DefaultChunkSize is the number of bytes requested per read of the
// response body.
const DefaultChunkSize = 1 << 20

// lineReader splits a byte stream into newline-delimited lines. Unlike
// bufio.Scanner it has no maximum token size: a line longer than the
// chunk size simply accumulates until its newline arrives. Peak memory is
// one chunk plus the longest pending line.
type lineReader struct {
	r     io.Reader
	chunk []byte
	buf   []byte
	cut   int   // start of unconsumed bytes in buf
	scan  int   // where the next newline search resumes
	err   error // sticky error from r, io.EOF at the end of input

	truncated bool // the last line returned had no trailing newline
}

func newLineReader(r io.Reader, chunkSize int) *lineReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &lineReader{
		r:     r,
		chunk: make([]byte, chunkSize),
	}
}

// Next returns the next non-empty line without its trailing newline.
// Bytes left unterminated at a clean end of input are returned as a last
// line. After the input is exhausted Next returns io.EOF; any other read
// error is returned as-is. The returned slice is only valid until the
// following call.
func (l *lineReader) Next() ([]byte, error) {
	for {
		if i := bytes.IndexByte(l.buf[l.scan:], '\n'); i >= 0 {
			end := l.scan + i
			line := l.buf[l.cut:end]
			l.cut = end + 1
			l.scan = l.cut

			if len(line) == 0 {
				continue
			}

			return line, nil
		}

		l.scan = len(l.buf)

		if l.err != nil {
			if l.err == io.EOF && l.cut < len(l.buf) {
				line := l.buf[l.cut:]
				l.cut = len(l.buf)
				l.scan = l.cut
				l.truncated = true

				return line, nil
			}

			return nil, l.err
		}

		l.compact()

		n, err := l.r.Read(l.chunk)
		l.buf = append(l.buf, l.chunk[:n]...)

		if err != nil {
			l.err = err
		}
	}
}

// Truncated reports whether the line last returned by Next ended at the
// end of input rather than at a newline.
func (l *lineReader) Truncated() bool {
	return l.truncated
}

// Pending returns the number of buffered bytes not yet returned as a line.
func (l *lineReader) Pending() int {
	return len(l.buf) - l.cut
}

// compact moves the unconsumed remainder to the front of the buffer.
func (l *lineReader) compact() {
	if l.cut == 0 {
		return
	}

	n := copy(l.buf, l.buf[l.cut:])
	l.buf = l.buf[:n]
	l.scan -= l.cut
	l.cut = 0
}
