package adapters

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
)

var sseDone = []byte("[DONE]")

// isEventStream reports whether the response carries server-sent events.
func isEventStream(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

// readSSE collects the data payloads of a server-sent event stream in order.
// Comment, event and blank lines are ignored and a [DONE] payload ends the stream.
func readSSE(r io.Reader) ([][]byte, error) {
	scanner := bufio.NewScanner(r)
	// Increase scanner buffer for large chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	events := [][]byte{}
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, sseDone) {
			return events, nil
		}
		events = append(events, append([]byte(nil), data...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return events, nil
}
