package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	results []Result
	calls   [][]byte
}

func (w *fakeWriter) Write(p []byte) (Result, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	w.calls = append(w.calls, cp)

	if len(w.results) == 0 {
		return Success, nil
	}
	r := w.results[0]
	w.results = w.results[1:]
	return r, nil
}

func TestBufferReserveCommitFlush(t *testing.T) {
	w := &fakeWriter{}
	b := NewBuffer(w, 64)

	p, err := b.Reserve(5)
	require.NoError(t, err)
	copy(p, "hello")
	b.Commit(5)
	assert.Equal(t, 5, b.Len())

	b.Flush()
	assert.Equal(t, 0, b.Len())
	require.Len(t, w.calls, 1)
	assert.Equal(t, "hello", string(w.calls[0]))
}

func TestBufferReserveTooLarge(t *testing.T) {
	w := &fakeWriter{}
	b := NewBuffer(w, 8)

	_, err := b.Reserve(16)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestBufferReserveFlushesWhenFull(t *testing.T) {
	w := &fakeWriter{}
	b := NewBuffer(w, 10)

	p, _ := b.Reserve(8)
	copy(p, "abcdefgh")
	b.Commit(8)

	// Only 2 bytes free; reserving 5 must flush the first 8 bytes first.
	p2, err := b.Reserve(5)
	require.NoError(t, err)
	copy(p2, "wxyz!")
	b.Commit(5)
	b.Flush()

	require.Len(t, w.calls, 2)
	assert.Equal(t, "abcdefgh", string(w.calls[0]))
	assert.Equal(t, "wxyz!", string(w.calls[1]))
}

func TestBufferRetainsOnTryLater(t *testing.T) {
	w := &fakeWriter{results: []Result{ErrorTryLater, ErrorTryLater, Success}}
	b := NewBuffer(w, 32)

	p, _ := b.Reserve(3)
	copy(p, "abc")
	b.Commit(3)

	b.Flush()
	assert.True(t, b.Retained())
	assert.Equal(t, 3, b.Len(), "bytes must stay staged after ErrorTryLater")

	b.Flush()
	assert.True(t, b.Retained())
	assert.Equal(t, 3, b.Len())

	b.Flush()
	assert.False(t, b.Retained())
	assert.Equal(t, 0, b.Len())

	require.Len(t, w.calls, 3)
	for _, c := range w.calls {
		assert.Equal(t, "abc", string(c), "retried bytes must be identical across retries")
	}
}

func TestBufferGiveUpDropsAndSilencesWriter(t *testing.T) {
	w := &fakeWriter{results: []Result{ErrorGiveUp}}
	b := NewBuffer(w, 32)

	p, _ := b.Reserve(3)
	copy(p, "abc")
	b.Commit(3)
	b.Flush()
	assert.Equal(t, 0, b.Len())

	p2, _ := b.Reserve(3)
	copy(p2, "xyz")
	b.Commit(3)
	b.Flush()

	// The second flush must not reach the real writer again.
	require.Len(t, w.calls, 1)
}

func TestBufferReserveErrorsWhenFlushLeavesBytesRetained(t *testing.T) {
	// A writer stuck on ErrorTryLater leaves commitEnd untouched across
	// Flush, so a Reserve that triggers that flush must recheck actual
	// free space afterwards rather than only total capacity — otherwise
	// it hands back a slice shorter than requested, and the caller's
	// copy() truncates silently instead of erroring.
	w := &fakeWriter{results: []Result{ErrorTryLater}}
	b := NewBuffer(w, 10)

	p, _ := b.Reserve(8)
	copy(p, "abcdefgh")
	b.Commit(8)

	// Only 2 bytes free; the writer refuses the flush, so the request
	// for 5 bytes must fail instead of returning a 2-byte slice.
	_, err := b.Reserve(5)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, 8, b.Len(), "the retained bytes must be untouched by the failed reservation")
}

func TestApplyRetentionDiscardOldest(t *testing.T) {
	w := &fakeWriter{results: []Result{ErrorTryLater}}
	b := NewBuffer(w, 32)

	p, _ := b.Reserve(6)
	copy(p, "abcdef")
	b.Commit(6)
	b.Flush()
	require.Equal(t, 6, b.Len())

	b.ApplyRetention(DiscardOldest, 2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "ef", string(b.data[:b.commitEnd]))
}

func TestShrink(t *testing.T) {
	w := &fakeWriter{}
	b := NewBuffer(w, 1024)
	assert.Equal(t, 1024, b.Cap())

	b.Shrink(64, 512)
	assert.Equal(t, 64, b.Cap(), "shrink must trim an idle, oversized buffer")

	p, _ := b.Reserve(4)
	copy(p, "keep")
	b.Commit(4)
	b.Shrink(16, 32)
	assert.Equal(t, 64, b.Cap(), "shrink must be a no-op while data is staged")
}
