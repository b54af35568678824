package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize is the maximum size of a single SSE line (1 MB). The
// default bufio.Scanner limit of 64 KiB is too small for long completions.
const maxSSELineSize = 1 * 1024 * 1024

// sseScanner reads Server-Sent Events data payloads from a reader.
// Multi-line data fields are joined with newlines; comments and other
// fields are skipped; the [DONE] sentinel ends the stream.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &sseScanner{scanner: s}
}

// Next returns the next data payload, or io.EOF at the end of the stream.
func (s *sseScanner) Next() (string, error) {
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			payload := strings.TrimSpace(rest)
			if payload == "[DONE]" {
				return "", io.EOF
			}
			data = append(data, payload)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("sse scanner: %w", err)
	}
	if len(data) > 0 {
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}
