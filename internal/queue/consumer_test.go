package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFailer struct {
	documentID string
	message    string
	calls      int
}

func (f *recordingFailer) Fail(ctx context.Context, documentID, message string) error {
	f.documentID = documentID
	f.message = message
	f.calls++
	return nil
}

func TestHandleIngestDocumentMissingFileMarksFailed(t *testing.T) {
	failer := &recordingFailer{}
	c := &Consumer{store: failer, config: &ConsumerConfig{}}

	payload, err := json.Marshal(TaskPayload{
		DocumentID: "doc-1",
		FileName:   "scan.pdf",
		FilePath:   "/nonexistent/scan.pdf",
		FileType:   "pdf",
	})
	require.NoError(t, err)

	err = c.handleIngestDocument(context.Background(), asynq.NewTask(TaskTypeIngestDocument, payload))
	require.Error(t, err)

	assert.Equal(t, 1, failer.calls)
	assert.Equal(t, "doc-1", failer.documentID)
	assert.Contains(t, failer.message, "failed to read uploaded file")
}

func TestHandleIngestDocumentMalformedPayloadMarksFailedWhenIDSurvives(t *testing.T) {
	failer := &recordingFailer{}
	c := &Consumer{store: failer, config: &ConsumerConfig{}}

	// document_id decodes before the malformed field is reached
	raw := []byte(`{"document_id":"doc-2","file_name":42}`)
	err := c.handleIngestDocument(context.Background(), asynq.NewTask(TaskTypeIngestDocument, raw))
	require.Error(t, err)

	assert.Equal(t, 1, failer.calls)
	assert.Equal(t, "doc-2", failer.documentID)
	assert.Contains(t, failer.message, "invalid task payload")
}

func TestHandleIngestDocumentMalformedPayloadWithoutID(t *testing.T) {
	failer := &recordingFailer{}
	c := &Consumer{store: failer, config: &ConsumerConfig{}}

	err := c.handleIngestDocument(context.Background(), asynq.NewTask(TaskTypeIngestDocument, []byte("{not json")))
	require.Error(t, err)

	// No record can be addressed without a document ID
	assert.Zero(t, failer.calls)
}
