package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scandock/ingest-worker/internal/chunker"
	"github.com/scandock/ingest-worker/internal/loader"
	"github.com/scandock/ingest-worker/internal/ocr"
	"github.com/scandock/ingest-worker/internal/pdfgen"
	"github.com/scandock/ingest-worker/internal/preprocess"
)

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 10, 10))
}

type fakeLoader struct {
	pages []loader.Page
	err   error
}

func (f *fakeLoader) Load(data []byte, fileType string) ([]loader.Page, error) {
	return f.pages, f.err
}

type fakePreprocessor struct{}

func (f *fakePreprocessor) Process(src image.Image) (*preprocess.Result, error) {
	return &preprocess.Result{Original: src, Binary: src}, nil
}

type fakeExtractor struct {
	texts       map[int]string
	confidences map[int]float64
	failPages   map[int]bool
}

func (f *fakeExtractor) Extract(img image.Image, pageNumber int) (*ocr.PageResult, error) {
	if f.failPages[pageNumber] {
		return nil, fmt.Errorf("ocr failed on page %d", pageNumber)
	}
	return &ocr.PageResult{
		PageNumber:    pageNumber,
		Text:          f.texts[pageNumber],
		AvgConfidence: f.confidences[pageNumber],
		ImageWidth:    10,
		ImageHeight:   10,
	}, nil
}

type fakeComposer struct {
	out      []byte
	gotPages int
}

func (f *fakeComposer) Compose(pages []pdfgen.Page) ([]byte, error) {
	f.gotPages = len(pages)
	if f.out == nil {
		return []byte("%PDF-fake"), nil
	}
	return f.out, nil
}

type fakeEmbedder struct {
	gotTexts []string
	err      error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotTexts = texts
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeStore struct {
	mu         sync.Mutex
	steps      []string
	appended   []string
	completed  bool
	pageCount  int
	chunkCount int
	confidence float64
	failedMsg  string
}

func (f *fakeStore) SetProcessing(ctx context.Context, documentID, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeStore) AppendOCRText(ctx context.Context, documentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, text)
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, documentID string, pageCount, chunkCount int, confidenceAvg float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.pageCount = pageCount
	f.chunkCount = chunkCount
	f.confidence = confidenceAvg
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, documentID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedMsg = message
	return nil
}

type fakeIndexer struct {
	gotChunks  []chunker.Chunk
	gotVectors [][]float32
}

func (f *fakeIndexer) IndexChunks(ctx context.Context, documentID string, chunks []chunker.Chunk, vectors [][]float32) error {
	f.gotChunks = chunks
	f.gotVectors = vectors
	return nil
}

type fixtures struct {
	loader    *fakeLoader
	extractor *fakeExtractor
	composer  *fakeComposer
	embedder  *fakeEmbedder
	store     *fakeStore
	indexer   *fakeIndexer
}

func newTestPipeline(t *testing.T, f *fixtures) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Loader:       f.loader,
		Preprocessor: &fakePreprocessor{},
		Extractor:    f.extractor,
		Composer:     f.composer,
		Embedder:     f.embedder,
		Store:        f.store,
		Indexer:      f.indexer,
		ChunkConfig:  chunker.Config{ParentSize: 800, ChildSize: 300, ChildOverlap: 50},
		CPUPoolSize:  2,
	})
	require.NoError(t, err)
	return p
}

func defaultFixtures() *fixtures {
	return &fixtures{
		loader: &fakeLoader{pages: []loader.Page{
			{Number: 1, Image: testImage()},
			{Number: 2, Image: testImage()},
		}},
		extractor: &fakeExtractor{
			texts:       map[int]string{1: "Text of page one.", 2: "Text of page two."},
			confidences: map[int]float64{1: 90, 2: 70},
			failPages:   map[int]bool{},
		},
		composer: &fakeComposer{},
		embedder: &fakeEmbedder{},
		store:    &fakeStore{},
		indexer:  &fakeIndexer{},
	}
}

func TestRunHappyPath(t *testing.T) {
	f := defaultFixtures()
	p := newTestPipeline(t, f)

	outPath := filepath.Join(t.TempDir(), "out.pdf")
	err := p.Run(context.Background(), Request{
		DocumentID:    "doc-1",
		FileName:      "scan.pdf",
		FileType:      "pdf",
		Data:          []byte("raw"),
		OutputPDFPath: outPath,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		StepUploading, StepPreprocessing, StepOCR, StepPDFGeneration, StepEmbedding,
	}, f.store.steps)

	// Per-page OCR text appended in page order
	require.Len(t, f.store.appended, 2)
	assert.Equal(t, "Text of page one.\n", f.store.appended[0])
	assert.Equal(t, "Text of page two.\n", f.store.appended[1])

	assert.True(t, f.store.completed)
	assert.Equal(t, 2, f.store.pageCount)
	assert.Equal(t, len(f.indexer.gotChunks), f.store.chunkCount)
	assert.InDelta(t, 80.0, f.store.confidence, 1e-9)

	// The searchable PDF landed on disk
	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-fake", string(written))
	assert.Equal(t, 2, f.composer.gotPages)

	// Child vectors align with child chunks
	children := chunker.Children(f.indexer.gotChunks)
	assert.Len(t, f.indexer.gotVectors, len(children))
	assert.NotEmpty(t, children)
}

func TestRunLoaderFailureMarksFailed(t *testing.T) {
	f := defaultFixtures()
	f.loader.err = fmt.Errorf("corrupt file")
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{DocumentID: "doc-1", FileType: "pdf", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, f.store.failedMsg, "corrupt file")
	assert.False(t, f.store.completed)
}

func TestRunOCRFailureExcludesPage(t *testing.T) {
	f := defaultFixtures()
	f.extractor.failPages[2] = true
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{DocumentID: "doc-1", FileType: "pdf", Data: []byte("x")})
	require.NoError(t, err)

	// Only page one contributes text and confidence
	require.Len(t, f.store.appended, 1)
	assert.Equal(t, "Text of page one.\n", f.store.appended[0])
	assert.InDelta(t, 90.0, f.store.confidence, 1e-9)
	assert.True(t, f.store.completed)
	assert.Equal(t, 2, f.store.pageCount, "page count still reflects the loaded document")
	assert.Equal(t, 1, f.composer.gotPages)
}

func TestRunFallbackTextDocument(t *testing.T) {
	// PDF that could not be rasterized: pages carry extracted text only and
	// the source document stands in for the searchable PDF.
	f := defaultFixtures()
	f.loader.pages = []loader.Page{
		{Number: 1, FallbackText: "Embedded text of page one."},
		{Number: 2, FallbackText: "Embedded text of page two."},
	}
	p := newTestPipeline(t, f)

	outPath := filepath.Join(t.TempDir(), "out.pdf")
	err := p.Run(context.Background(), Request{
		DocumentID:    "doc-1",
		FileType:      "pdf",
		Data:          []byte("%PDF-source"),
		OutputPDFPath: outPath,
	})
	require.NoError(t, err)

	assert.True(t, f.store.completed)
	assert.Zero(t, f.store.confidence, "no OCR ran, confidence is 0.0")
	assert.Equal(t, 0, f.composer.gotPages, "composer not invoked for fallback documents")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-source", string(written))
}

func TestRunFallbackWithNoTextFails(t *testing.T) {
	f := defaultFixtures()
	f.loader.pages = []loader.Page{
		{Number: 1, FallbackText: "   "},
		{Number: 2, FallbackText: ""},
	}
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{DocumentID: "doc-1", FileType: "pdf", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, f.store.failedMsg, "no extractable text")
	assert.False(t, f.store.completed)
}

func TestRunEmbeddingFailureMarksFailed(t *testing.T) {
	f := defaultFixtures()
	f.embedder.err = fmt.Errorf("embedding API down")
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{DocumentID: "doc-1", FileType: "pdf", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, f.store.failedMsg, "embedding API down")
	assert.False(t, f.store.completed)
	// Failure happened after the embedding step was recorded
	assert.Equal(t, StepEmbedding, f.store.steps[len(f.store.steps)-1])
}

func TestRunChildTextsReachEmbedder(t *testing.T) {
	f := defaultFixtures()
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{DocumentID: "doc-1", FileType: "pdf", Data: []byte("x")})
	require.NoError(t, err)

	require.NotEmpty(t, f.embedder.gotTexts)
	for _, text := range f.embedder.gotTexts {
		assert.True(t,
			strings.Contains(text, "page one") || strings.Contains(text, "page two"),
			"embedded text should come from page content: %q", text)
	}
}

func TestRunRequiresDocumentID(t *testing.T) {
	p := newTestPipeline(t, defaultFixtures())
	err := p.Run(context.Background(), Request{})
	assert.Error(t, err)
}

func (f *fakeStore) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func (f *fakeStore) appendedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.appended...)
}

// gatedExtractor blocks one page's extraction until released, so tests can
// observe the pipeline mid-phase
type gatedExtractor struct {
	inner   *fakeExtractor
	gated   int
	release chan struct{}
}

func (g *gatedExtractor) Extract(img image.Image, pageNumber int) (*ocr.PageResult, error) {
	if pageNumber == g.gated {
		<-g.release
	}
	return g.inner.Extract(img, pageNumber)
}

func TestRunPersistsPageTextWhilePhaseStillRunning(t *testing.T) {
	f := defaultFixtures()
	release := make(chan struct{})
	gated := &gatedExtractor{inner: f.extractor, gated: 2, release: release}

	p, err := New(Options{
		Loader:       f.loader,
		Preprocessor: &fakePreprocessor{},
		Extractor:    gated,
		Composer:     f.composer,
		Embedder:     f.embedder,
		Store:        f.store,
		Indexer:      f.indexer,
		ChunkConfig:  chunker.Config{ParentSize: 800, ChildSize: 300, ChildOverlap: 50},
		CPUPoolSize:  2,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), Request{
			DocumentID: "doc-1", FileName: "scan.png", FileType: "png", Data: []byte("img"),
		})
	}()

	// Page 1's text must land on the record while page 2 is still extracting
	require.Eventually(t, func() bool { return f.store.appendCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Text of page one.\n"}, f.store.appendedTexts())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"Text of page one.\n", "Text of page two.\n"}, f.store.appendedTexts())
}

func TestRunAppendsStayInPageOrder(t *testing.T) {
	f := defaultFixtures()
	release := make(chan struct{})
	gated := &gatedExtractor{inner: f.extractor, gated: 1, release: release}

	p, err := New(Options{
		Loader:       f.loader,
		Preprocessor: &fakePreprocessor{},
		Extractor:    gated,
		Composer:     f.composer,
		Embedder:     f.embedder,
		Store:        f.store,
		Indexer:      f.indexer,
		ChunkConfig:  chunker.Config{ParentSize: 800, ChildSize: 300, ChildOverlap: 50},
		CPUPoolSize:  2,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), Request{
			DocumentID: "doc-1", FileName: "scan.png", FileType: "png", Data: []byte("img"),
		})
	}()

	// Page 2 finishes first but must wait for page 1 before anything is
	// persisted
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.store.appendCount())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"Text of page one.\n", "Text of page two.\n"}, f.store.appendedTexts())
}

func TestRunTwoPageChunkShape(t *testing.T) {
	// Two pages of roughly 600 characters each: one parent per page, each
	// parent split into 2-3 overlapping children
	pageText := strings.TrimSpace(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 13))
	f := defaultFixtures()
	f.extractor.texts = map[int]string{1: pageText, 2: pageText}
	p := newTestPipeline(t, f)

	err := p.Run(context.Background(), Request{
		DocumentID: "doc-1", FileName: "scan.png", FileType: "png", Data: []byte("img"),
	})
	require.NoError(t, err)

	parents := chunker.Parents(f.indexer.gotChunks)
	children := chunker.Children(f.indexer.gotChunks)
	require.Len(t, parents, 2)

	perParent := make(map[string][]chunker.Chunk)
	for _, c := range children {
		perParent[c.ParentID] = append(perParent[c.ParentID], c)
	}
	require.Len(t, perParent, 2)
	for id, kids := range perParent {
		assert.GreaterOrEqual(t, len(kids), 2, "parent %s", id)
		assert.LessOrEqual(t, len(kids), 3, "parent %s", id)
		for i := 1; i < len(kids); i++ {
			head := string([]rune(kids[i].Text)[:20])
			assert.Contains(t, kids[i-1].Text, head,
				"consecutive children of parent %s share overlapping text", id)
		}
	}

	assert.True(t, f.store.completed)
	assert.Equal(t, 2, f.store.pageCount)
	assert.Equal(t, len(parents)+len(children), f.store.chunkCount)
}
