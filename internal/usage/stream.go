package usage

import (
	"bytes"
	"io"
	"sync"
)

var dataPrefix = []byte("data: ")
var doneMarker = []byte("[DONE]")

// TrackingReader observes a streamed SSE response body, capturing the last
// usage figure it sees, and hands the bytes through untouched. Accounting is
// a side channel: it never blocks, delays, or mutates the stream.
//
// Usage-bearing records may be split across chunk boundaries, so partial
// lines are buffered until complete. Later usage figures supersede earlier
// ones, as providers emit cumulative or final-only usage.
//
// The commit callback fires once, on its own goroutine, only when the stream
// ends normally. An aborted stream commits nothing: no token cost is charged
// for a response that never completed.
type TrackingReader struct {
	rc       io.ReadCloser
	onUsage  func(Usage)
	partial  []byte
	lastData []byte
	mu       sync.Mutex
	finished bool
}

// NewTrackingReader wraps body; onUsage is invoked with the final usage when
// the stream reaches EOF with a parseable usage record.
func NewTrackingReader(body io.ReadCloser, onUsage func(Usage)) *TrackingReader {
	return &TrackingReader{rc: body, onUsage: onUsage}
}

func (t *TrackingReader) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.scan(p[:n])
	}
	if err == io.EOF {
		t.finish()
	}
	return n, err
}

// Close releases the underlying body. If EOF was never reached the stream
// was aborted and nothing is committed.
func (t *TrackingReader) Close() error {
	return t.rc.Close()
}

func (t *TrackingReader) scan(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, chunk...)

	for {
		idx := bytes.IndexByte(t.partial, '\n')
		if idx < 0 {
			return
		}
		line := t.partial[:idx]
		t.partial = t.partial[idx+1:]
		t.scanLine(line)
	}
}

func (t *TrackingReader) scanLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := line[len(dataPrefix):]
	if bytes.Equal(payload, doneMarker) {
		return
	}
	if _, ok := Extract(payload); ok {
		t.lastData = append(t.lastData[:0], payload...)
	}
}

func (t *TrackingReader) finish() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true

	// A final record may arrive without a trailing newline.
	if len(t.partial) > 0 {
		t.scanLine(t.partial)
		t.partial = nil
	}
	last := t.lastData
	t.mu.Unlock()

	if last == nil || t.onUsage == nil {
		return
	}
	if u, ok := Extract(last); ok && u.Total > 0 {
		// The callback runs on its own goroutine: finish executes during
		// the final Read, and a slow commit must not delay the bytes
		// delivered alongside EOF.
		go t.onUsage(u)
	}
}
