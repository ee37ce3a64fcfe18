package protocol

import (
	"bufio"
	"io"
)

// lineBufferSize is the maximum length of a single logical line. The
// protocol has no long-line commands, so lines beyond this length are
// silently truncated rather than coalesced across reads.
const lineBufferSize = 4096

// LineReader reads one logical line at a time (CR/LF trimmed) from an
// underlying stream, distinguishing end-of-stream from an empty line.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader wraps r in a LineReader.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReaderSize(r, lineBufferSize)}
}

// ReadLine reads the next logical line. ok is false only at end-of-stream;
// an empty line is reported as ("", true). Lines longer than the internal
// buffer are truncated at the buffer boundary and the remainder is dropped up
// to (and including) the next newline, matching the original reader's
// behavior of never coalescing a long line across calls.
func (r *LineReader) ReadLine() (line string, ok bool) {
	data, err := r.reader.ReadSlice('\n')
	if len(data) == 0 && err != nil {
		return "", false
	}

	// ReadSlice returns bufio.ErrBufferFull if the line doesn't fit in the
	// buffer. Keep the first bufferful as the (truncated) line, then drain
	// and discard the remainder of that physical line so the next call
	// starts at the following line.
	truncated := err == bufio.ErrBufferFull
	first := append([]byte(nil), data...)
	for err == bufio.ErrBufferFull {
		data, err = r.reader.ReadSlice('\n')
	}

	if truncated {
		return string(trimTrailingNewline(first)), true
	}
	return string(trimTrailingNewline(data)), true
}

// trimTrailingNewline strips a single trailing '\n' and, if present, a
// preceding '\r'.
func trimTrailingNewline(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	if n := len(data); n > 0 && data[n-1] == '\r' {
		data = data[:n-1]
	}
	return data
}
