package naad

import (
	"bytes"
	"errors"
)

// ErrFrameTooLarge is returned by Append when the buffer outgrows its cap
// without a closing tag. The buffer has been discarded by then.
var ErrFrameTooLarge = errors.New("naad: frame exceeds maximum size")

var closeTag = []byte("</alert>")

// Framer accumulates stream bytes and returns each complete alert document.
// It is owned by a single connection and is not safe for concurrent use.
type Framer struct {
	buf      []byte
	scanned  int // bytes already searched without finding a tag
	maxBytes int
}

// NewFramer returns a Framer. maxBytes <= 0 disables the size cap.
func NewFramer(maxBytes int) *Framer {
	return &Framer{maxBytes: maxBytes}
}

// Append adds p to the buffer and returns every document now complete, in
// stream order. A document runs from the start of the buffer through the
// first case-insensitive </alert>; leading whitespace is trimmed.
func (f *Framer) Append(p []byte) ([][]byte, error) {
	f.buf = append(f.buf, p...)

	var docs [][]byte
	for {
		end := indexCloseTag(f.buf, f.scanned)
		if end < 0 {
			break
		}
		doc := bytes.TrimLeft(f.buf[:end], " \t\r\n")
		docs = append(docs, append([]byte(nil), doc...))
		f.buf = f.buf[end:]
		f.scanned = 0
	}

	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	} else {
		// A tag may straddle the next Append.
		f.scanned = max(0, len(f.buf)-len(closeTag)+1)
	}

	if f.maxBytes > 0 && len(f.buf) > f.maxBytes {
		f.Reset()
		return docs, ErrFrameTooLarge
	}
	return docs, nil
}

// Buffered reports how many bytes are waiting for a closing tag.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partial document.
func (f *Framer) Reset() {
	f.buf = nil
	f.scanned = 0
}

// indexCloseTag returns the offset just past the first </alert> at or after
// from, or -1.
func indexCloseTag(b []byte, from int) int {
	for i := from; i+len(closeTag) <= len(b); {
		j := bytes.IndexByte(b[i:], '<')
		if j < 0 {
			return -1
		}
		i += j
		if i+len(closeTag) > len(b) {
			return -1
		}
		if bytes.EqualFold(b[i:i+len(closeTag)], closeTag) {
			return i + len(closeTag)
		}
		i++
	}
	return -1
}
