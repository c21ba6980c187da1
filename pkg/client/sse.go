package client

import (
	"bufio"
	"bytes"
	"io"
)

// SSEReader yields the data payload of each server-sent event frame. Frames
// are separated by blank lines; multi-line data fields are joined with
// newlines per the SSE wire format. Comment lines and non-data fields are skipped.
type SSEReader struct {
	r *bufio.Reader
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReader(r)}
}

// Next returns the next non-empty data payload, or io.EOF when the stream
// ends.
func (s *SSEReader) Next() ([]byte, error) {
	var data [][]byte
	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				// stream ended without the trailing blank line
				return bytes.Join(data, []byte("\n")), nil
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return bytes.Join(data, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if !found || !bytes.Equal(field, []byte("data")) {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, value)
	}
}
