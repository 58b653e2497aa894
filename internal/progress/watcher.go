/**
 * Ingestion Progress Watcher
 *
 * Streams a document's progress to interested readers by polling its
 * persisted record. An event is emitted whenever the step changes or the
 * accumulated OCR text grows, and exactly once when the document reaches a
 * terminal status.
 */

package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/scandock/ingest-worker/internal/logging"
	"github.com/scandock/ingest-worker/internal/storage"
)

// Event is one progress update for a document
type Event struct {
	Step    string  `json:"step"`
	OCRText string  `json:"ocr_text"`
	Status  string  `json:"status"`
	Error   *string `json:"error,omitempty"`
}

// DocumentReader loads the current document record
type DocumentReader interface {
	GetDocument(ctx context.Context, documentID string) (*storage.Document, error)
}

// Publisher pushes events to an external channel alongside the returned
// stream. Optional.
type Publisher interface {
	Publish(ctx context.Context, documentID string, event Event) error
}

// Watcher polls document records and emits progress events
type Watcher struct {
	reader    DocumentReader
	publisher Publisher
	interval  time.Duration
	log       *logging.Logger
}

// NewWatcher creates a progress watcher. publisher may be nil.
func NewWatcher(reader DocumentReader, publisher Publisher, interval time.Duration) (*Watcher, error) {
	if reader == nil {
		return nil, fmt.Errorf("document reader is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", interval)
	}

	return &Watcher{
		reader:    reader,
		publisher: publisher,
		interval:  interval,
		log:       logging.NewLogger("progress"),
	}, nil
}

// Watch streams progress events for a document until it reaches a terminal
// status or ctx is cancelled. The returned channel closes when the stream
// ends.
func (w *Watcher) Watch(ctx context.Context, documentID string) (<-chan Event, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	events := make(chan Event, 16)
	go w.poll(ctx, documentID, events)
	return events, nil
}

func (w *Watcher) poll(ctx context.Context, documentID string, events chan<- Event) {
	defer close(events)

	log := w.log.WithDocument(documentID)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var lastStep string
	var lastTextLen int
	first := true

	for {
		doc, err := w.reader.GetDocument(ctx, documentID)
		if err != nil {
			log.Warn("failed to poll document", "error", err)
		} else if first || doc.Step != lastStep || len(doc.OCRText) > lastTextLen {
			first = false
			lastStep = doc.Step
			lastTextLen = len(doc.OCRText)
			event := toEvent(doc)
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
			if w.publisher != nil {
				if perr := w.publisher.Publish(ctx, documentID, event); perr != nil {
					log.Warn("failed to publish progress event", "error", perr)
				}
			}
			if terminal(doc.Status) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// toEvent maps a document record to its progress event. Pending documents
// report as processing so readers see a single status progression.
func toEvent(doc *storage.Document) Event {
	status := doc.Status
	if status == storage.StatusPending {
		status = storage.StatusProcessing
	}

	event := Event{
		Step:    doc.Step,
		OCRText: doc.OCRText,
		Status:  status,
	}
	if doc.Status == storage.StatusFailed && doc.ErrorMessage != "" {
		msg := doc.ErrorMessage
		event.Error = &msg
	}
	return event
}

func terminal(status string) bool {
	return status == storage.StatusCompleted || status == storage.StatusFailed
}
