// Package searchd is the client for the long-lived search daemon co-process.
// The daemon performs BM25 search and document-fragment selection over the
// corpus; we speak length-prefixed JSON frames over its stdin/stdout.
package searchd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// headerDelim terminates the frame header block.
const headerDelim = "\r\n\r\n"

// EncodeFrame wraps payload in a Content-Length header.
func EncodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d%s", len(payload), headerDelim)
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// WriteFrame writes one framed message to w.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(EncodeFrame(payload))
	return err
}

// ReadFrame reads one framed message: header lines ending with a blank
// CRLF line, then exactly Content-Length bytes of payload.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed frame header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", value, err)
			}
			length = n
		}
	}
	if length < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
