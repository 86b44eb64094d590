package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxLineBytes bounds a single control frame. A partial segment that
// grows past this without a newline indicates a broken or hostile peer.
const DefaultMaxLineBytes = 64 * 1024

// ErrLineTooLong reports a partial segment exceeding the configured bound.
// Unlike a DecodeError this is a connection-level failure.
var ErrLineTooLong = errors.New("line exceeds maximum frame size")

// LineBuffer accumulates partial TCP reads and yields complete
// newline-terminated segments, retaining any trailing partial segment.
type LineBuffer struct {
	buf      bytes.Buffer
	maxBytes int
}

// NewLineBuffer constructs a buffer with the given frame bound, or the
// default when maxBytes is not positive.
func NewLineBuffer(maxBytes int) *LineBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}
	return &LineBuffer{maxBytes: maxBytes}
}

// Feed appends a chunk of received bytes and returns every complete line it
// now holds, without the terminating newline. Empty lines are skipped.
func (b *LineBuffer) Feed(chunk []byte) ([][]byte, error) {
	if b == nil {
		return nil, errors.New("nil line buffer")
	}
	b.buf.Write(chunk)

	var lines [][]byte
	for {
		data := b.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		//1.- Copy the completed segment out before the buffer is advanced.
		line := bytes.TrimRight(append([]byte(nil), data[:idx]...), "\r")
		b.buf.Next(idx + 1)
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}

	//2.- A partial segment may legitimately span many reads, but never the bound.
	if b.buf.Len() > b.maxBytes {
		b.buf.Reset()
		return lines, fmt.Errorf("%w: %d bytes buffered", ErrLineTooLong, b.maxBytes)
	}
	return lines, nil
}

// Pending reports how many bytes of a partial segment are currently buffered.
func (b *LineBuffer) Pending() int {
	if b == nil {
		return 0
	}
	return b.buf.Len()
}
