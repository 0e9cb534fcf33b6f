package usage

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader returns one predefined chunk per Read call, so tests control
// exactly where record boundaries fall.
type chunkedReader struct {
	chunks [][]byte
	closed bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkedReader) Close() error {
	c.closed = true
	return nil
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// usageCapture collects commit callbacks, which fire on their own goroutine.
type usageCapture struct {
	ch chan Usage
}

func newUsageCapture() *usageCapture {
	return &usageCapture{ch: make(chan Usage, 4)}
}

func (c *usageCapture) record(u Usage) {
	c.ch <- u
}

func (c *usageCapture) wait(t *testing.T) Usage {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("usage callback never fired")
		return Usage{}
	}
}

func (c *usageCapture) assertNone(t *testing.T) {
	t.Helper()
	select {
	case u := <-c.ch:
		t.Fatalf("unexpected usage commit: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTrackingReaderPassesBytesThroughUnmodified(t *testing.T) {
	input := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	body := &chunkedReader{chunks: [][]byte{input}}

	tr := NewTrackingReader(body, func(Usage) {})
	assert.Equal(t, input, readAll(t, tr))
}

func TestTrackingReaderCapturesFinalUsage(t *testing.T) {
	capture := newUsageCapture()

	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}],\"usage\":{\"total_tokens\":5,\"prompt_tokens\":2,\"completion_tokens\":3}}\n\n"),
		[]byte("data: {\"choices\":[],\"usage\":{\"total_tokens\":40,\"prompt_tokens\":10,\"completion_tokens\":30}}\n\ndata: [DONE]\n\n"),
	}}

	tr := NewTrackingReader(body, capture.record)
	readAll(t, tr)

	// Later usage figures supersede earlier ones, and the commit fires once.
	got := capture.wait(t)
	assert.Equal(t, int64(40), got.Total)
	assert.Equal(t, int64(10), got.Prompt)
	assert.Equal(t, int64(30), got.Completion)
	capture.assertNone(t)
}

func TestTrackingReaderBuffersSplitRecords(t *testing.T) {
	capture := newUsageCapture()

	// The usage-bearing record is split mid-JSON across two physical chunks.
	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"usage\":{\"total_tokens\":77,\"prom"),
		[]byte("pt_tokens\":70,\"completion_tokens\":7}}\n\n"),
	}}

	tr := NewTrackingReader(body, capture.record)
	readAll(t, tr)

	assert.Equal(t, int64(77), capture.wait(t).Total)
}

func TestTrackingReaderFinalRecordWithoutNewline(t *testing.T) {
	capture := newUsageCapture()

	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"usage\":{\"total_tokens\":9,\"prompt_tokens\":4,\"completion_tokens\":5}}"),
	}}

	tr := NewTrackingReader(body, capture.record)
	readAll(t, tr)

	assert.Equal(t, int64(9), capture.wait(t).Total)
}

func TestTrackingReaderAbortedStreamCommitsNothing(t *testing.T) {
	capture := newUsageCapture()

	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"usage\":{\"total_tokens\":100,\"prompt_tokens\":50,\"completion_tokens\":50}}\n\n"),
		[]byte("data: more to come\n"),
	}}

	tr := NewTrackingReader(body, capture.record)

	// Read only the first chunk, then abort before EOF.
	buf := make([]byte, 1024)
	_, err := tr.Read(buf)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	capture.assertNone(t)
	assert.True(t, body.closed)
}

func TestTrackingReaderIgnoresNonDataLines(t *testing.T) {
	capture := newUsageCapture()

	body := &chunkedReader{chunks: [][]byte{
		[]byte(": keepalive\n\nevent: ping\n\ndata: [DONE]\n\n"),
	}}

	tr := NewTrackingReader(body, capture.record)
	readAll(t, tr)

	capture.assertNone(t)
}

func TestTrackingReaderCRLFLines(t *testing.T) {
	capture := newUsageCapture()

	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"usage\":{\"total_tokens\":11,\"prompt_tokens\":6,\"completion_tokens\":5}}\r\n\r\n"),
	}}

	tr := NewTrackingReader(body, capture.record)
	readAll(t, tr)

	assert.Equal(t, int64(11), capture.wait(t).Total)
}

func TestTrackingReaderLargePassthrough(t *testing.T) {
	var payload bytes.Buffer
	for i := 0; i < 500; i++ {
		payload.WriteString("data: {\"choices\":[{\"delta\":{\"content\":\"chunk\"}}]}\n\n")
	}
	payload.WriteString("data: {\"usage\":{\"total_tokens\":123,\"prompt_tokens\":100,\"completion_tokens\":23}}\n\ndata: [DONE]\n\n")

	capture := newUsageCapture()
	body := &chunkedReader{chunks: [][]byte{payload.Bytes()}}
	tr := NewTrackingReader(body, capture.record)

	out := readAll(t, tr)
	assert.Equal(t, payload.Bytes(), out)
	assert.Equal(t, int64(123), capture.wait(t).Total)
}

func TestTrackingReaderSlowCommitDoesNotDelayStream(t *testing.T) {
	release := make(chan struct{})
	committed := make(chan struct{})

	body := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"usage\":{\"total_tokens\":15,\"prompt_tokens\":5,\"completion_tokens\":10}}\n\n"),
	}}
	tr := NewTrackingReader(body, func(Usage) {
		<-release
		close(committed)
	})

	// The commit callback is still blocked here; a reader that waited on it
	// during the final Read would never reach EOF.
	start := time.Now()
	readAll(t, tr)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatal("usage callback never fired")
	}
}
