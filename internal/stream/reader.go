// Package stream reads upstream SSE bodies and decodes response chunks.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Reader yields the data payloads of an SSE stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps an upstream body.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next data payload. Returns io.EOF at end of stream or on
// the [DONE] sentinel.
func (r *Reader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, io.EOF
		}
		return []byte(data), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
