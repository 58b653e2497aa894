package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scandock/ingest-worker/internal/storage"
)

// scriptedReader returns each document snapshot in turn, repeating the last
type scriptedReader struct {
	mu        sync.Mutex
	snapshots []*storage.Document
	pos       int
}

func (r *scriptedReader) GetDocument(ctx context.Context, documentID string) (*storage.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.snapshots[r.pos]
	if r.pos < len(r.snapshots)-1 {
		r.pos++
	}
	return doc, nil
}

func collect(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
		}
	}
}

func TestWatcherEmitsStepChanges(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusProcessing, Step: "Uploading"},
		{ID: "d1", Status: storage.StatusProcessing, Step: "OCR", OCRText: "page one\n"},
		{ID: "d1", Status: storage.StatusCompleted, Step: "Done", OCRText: "page one\n"},
	}}

	w, err := NewWatcher(reader, nil, time.Millisecond)
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "d1")
	require.NoError(t, err)

	got := collect(t, events, 2*time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, "Uploading", got[0].Step)
	assert.Equal(t, "processing", got[0].Status)
	assert.Equal(t, "OCR", got[1].Step)
	assert.Equal(t, "page one\n", got[1].OCRText)
	assert.Equal(t, "Done", got[2].Step)
	assert.Equal(t, "completed", got[2].Status)
}

func TestWatcherEmitsOnTextGrowth(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusProcessing, Step: "OCR", OCRText: "a"},
		{ID: "d1", Status: storage.StatusProcessing, Step: "OCR", OCRText: "ab"},
		{ID: "d1", Status: storage.StatusCompleted, Step: "Done", OCRText: "ab"},
	}}

	w, err := NewWatcher(reader, nil, time.Millisecond)
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "d1")
	require.NoError(t, err)

	got := collect(t, events, 2*time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].OCRText)
	assert.Equal(t, "ab", got[1].OCRText, "same step, grown text still emits")
}

func TestWatcherTerminalFailureCarriesError(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusFailed, Step: "error", ErrorMessage: "OCR exploded"},
	}}

	w, err := NewWatcher(reader, nil, time.Millisecond)
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "d1")
	require.NoError(t, err)

	got := collect(t, events, 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].Status)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, "OCR exploded", *got[0].Error)
}

func TestWatcherPendingReportsAsProcessing(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusPending, Step: ""},
		{ID: "d1", Status: storage.StatusCompleted, Step: "Done"},
	}}

	w, err := NewWatcher(reader, nil, time.Millisecond)
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "d1")
	require.NoError(t, err)

	got := collect(t, events, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, "processing", got[0].Status)
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusProcessing, Step: "OCR"},
	}}

	w, err := NewWatcher(reader, nil, time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := w.Watch(ctx, "d1")
	require.NoError(t, err)

	// First event arrives, then the stream idles on an unchanged record
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an initial event")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancel")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, documentID string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func TestWatcherMirrorsToPublisher(t *testing.T) {
	reader := &scriptedReader{snapshots: []*storage.Document{
		{ID: "d1", Status: storage.StatusCompleted, Step: "Done"},
	}}
	pub := &recordingPublisher{}

	w, err := NewWatcher(reader, pub, time.Millisecond)
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "d1")
	require.NoError(t, err)
	collect(t, events, 2*time.Second)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, "Done", pub.events[0].Step)
}
