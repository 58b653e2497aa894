/**
 * Document Ingestion Pipeline
 *
 * Drives one uploaded document through the full ingestion flow: page
 * loading, image preprocessing, OCR, searchable PDF composition, chunking,
 * embedding and indexing. Each stage persists its step name before running
 * so readers polling the document record see progress in real time.
 *
 * Page-level failures in the CPU stages exclude the page and continue;
 * document-level failures mark the record failed and stop.
 */

package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/scandock/ingest-worker/internal/chunker"
	errs "github.com/scandock/ingest-worker/internal/errors"
	"github.com/scandock/ingest-worker/internal/loader"
	"github.com/scandock/ingest-worker/internal/logging"
	"github.com/scandock/ingest-worker/internal/ocr"
	"github.com/scandock/ingest-worker/internal/pdfgen"
	"github.com/scandock/ingest-worker/internal/preprocess"
)

// Processing step names, persisted on the document record in this order
const (
	StepUploading     = "Uploading"
	StepPreprocessing = "Preprocessing"
	StepOCR           = "OCR"
	StepPDFGeneration = "PDF Generation"
	StepEmbedding     = "Embedding"
	StepDone          = "Done"
)

// PageLoader decodes an uploaded file into ordered pages
type PageLoader interface {
	Load(data []byte, fileType string) ([]loader.Page, error)
}

// Preprocessor cleans a page image for OCR
type Preprocessor interface {
	Process(src image.Image) (*preprocess.Result, error)
}

// Extractor runs OCR over a preprocessed page image
type Extractor interface {
	Extract(img image.Image, pageNumber int) (*ocr.PageResult, error)
}

// Composer builds a searchable PDF from page images and OCR geometry
type Composer interface {
	Compose(pages []pdfgen.Page) ([]byte, error)
}

// Embedder turns chunk texts into vectors
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore persists document lifecycle state
type DocumentStore interface {
	SetProcessing(ctx context.Context, documentID, step string) error
	AppendOCRText(ctx context.Context, documentID, text string) error
	Complete(ctx context.Context, documentID string, pageCount, chunkCount int, confidenceAvg float64) error
	Fail(ctx context.Context, documentID, message string) error
}

// ChunkIndexer persists the chunk sequence across both stores
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, documentID string, chunks []chunker.Chunk, childVectors [][]float32) error
}

// Request describes one document to ingest
type Request struct {
	DocumentID    string
	FileName      string
	FileType      string
	Data          []byte
	OutputPDFPath string
}

// Pipeline wires the ingestion stages together
type Pipeline struct {
	loader       PageLoader
	preprocessor Preprocessor
	extractor    Extractor
	composer     Composer
	embedder     Embedder
	store        DocumentStore
	indexer      ChunkIndexer
	chunkCfg     chunker.Config
	pool         *Pool
	log          *logging.Logger
}

// Options holds the pipeline's stage implementations and tuning
type Options struct {
	Loader       PageLoader
	Preprocessor Preprocessor
	Extractor    Extractor
	Composer     Composer
	Embedder     Embedder
	Store        DocumentStore
	Indexer      ChunkIndexer
	ChunkConfig  chunker.Config
	CPUPoolSize  int
}

// New creates a pipeline from its stage implementations
func New(opts Options) (*Pipeline, error) {
	if opts.Loader == nil || opts.Preprocessor == nil || opts.Extractor == nil ||
		opts.Composer == nil || opts.Embedder == nil || opts.Store == nil || opts.Indexer == nil {
		return nil, fmt.Errorf("all pipeline stages are required")
	}
	if opts.ChunkConfig.ParentSize == 0 {
		opts.ChunkConfig = chunker.DefaultConfig()
	}

	return &Pipeline{
		loader:       opts.Loader,
		preprocessor: opts.Preprocessor,
		extractor:    opts.Extractor,
		composer:     opts.Composer,
		embedder:     opts.Embedder,
		store:        opts.Store,
		indexer:      opts.Indexer,
		chunkCfg:     opts.ChunkConfig,
		pool:         NewPool(opts.CPUPoolSize),
		log:          logging.NewLogger("pipeline"),
	}, nil
}

// pageState carries one page through the stages
type pageState struct {
	page     loader.Page
	binary   image.Image
	ocr      *ocr.PageResult
	excluded bool
	done     bool // OCR finished (or page skipped), text ready to persist
}

// text returns the page's contribution to the document text
func (s *pageState) text() string {
	if s.ocr != nil {
		return s.ocr.Text
	}
	return s.page.FallbackText
}

// Run ingests one document end to end. Any returned error is terminal: the
// document record has already been marked failed.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	if req.DocumentID == "" {
		return errs.NewInputError("document ID is required")
	}
	log := p.log.WithDocument(req.DocumentID)

	fail := func(stage string, cause error) error {
		log.Error("ingestion failed", "stage", stage, "error", cause)
		if err := p.store.Fail(ctx, req.DocumentID, cause.Error()); err != nil {
			log.Error("failed to persist failure state", "error", err)
		}
		return errs.NewTerminalFailure(req.DocumentID, stage, cause)
	}

	// Uploading: decode the payload into pages
	if err := p.store.SetProcessing(ctx, req.DocumentID, StepUploading); err != nil {
		return errs.NewTerminalFailure(req.DocumentID, StepUploading, err)
	}
	pages, err := p.loader.Load(req.Data, req.FileType)
	if err != nil && !errs.IsRasterizationUnavailable(err) {
		return fail(StepUploading, err)
	}
	if len(pages) == 0 {
		return fail(StepUploading, fmt.Errorf("document produced no pages"))
	}
	log.Info("document loaded", "pages", len(pages), "file", req.FileName)

	states := make([]*pageState, len(pages))
	for i, page := range pages {
		states[i] = &pageState{page: page}
	}

	// Preprocessing: clean page images, in parallel on the CPU pool
	if err := p.store.SetProcessing(ctx, req.DocumentID, StepPreprocessing); err != nil {
		return fail(StepPreprocessing, err)
	}
	if err := p.pool.ForEach(ctx, len(states), func(i int) {
		st := states[i]
		if st.page.Fallback() {
			return
		}
		result, perr := p.preprocessor.Process(st.page.Image)
		if perr != nil {
			log.Warn("page preprocessing failed, excluding page", "page", st.page.Number, "error", perr)
			st.excluded = true
			return
		}
		st.binary = result.Binary
	}); err != nil {
		return fail(StepPreprocessing, err)
	}

	// OCR: extract text and word geometry, in parallel. Pages finish out
	// of order, so each completion persists the contiguous run of finished
	// pages; readers polling the record see text accumulate mid-phase.
	if err := p.store.SetProcessing(ctx, req.DocumentID, StepOCR); err != nil {
		return fail(StepOCR, err)
	}
	var (
		appendMu   sync.Mutex
		nextAppend int
		appendErr  error
	)
	persist := func(st *pageState) {
		appendMu.Lock()
		defer appendMu.Unlock()
		st.done = true
		for nextAppend < len(states) && states[nextAppend].done {
			text := states[nextAppend].text()
			nextAppend++
			if strings.TrimSpace(text) == "" || appendErr != nil {
				continue
			}
			if err := p.store.AppendOCRText(ctx, req.DocumentID, text+"\n"); err != nil {
				appendErr = err
			}
		}
	}
	if err := p.pool.ForEach(ctx, len(states), func(i int) {
		st := states[i]
		defer persist(st)
		if st.page.Fallback() || st.excluded {
			return
		}
		result, oerr := p.extractor.Extract(st.binary, st.page.Number)
		if oerr != nil {
			log.Warn("page OCR failed, excluding page", "page", st.page.Number, "error", oerr)
			st.excluded = true
			return
		}
		st.ocr = result
	}); err != nil {
		return fail(StepOCR, err)
	}
	if appendErr != nil {
		return fail(StepOCR, appendErr)
	}

	var pageTexts []chunker.PageText
	var confidenceSum float64
	var confidencePages int
	allFallback := true
	for _, st := range states {
		text := st.text()
		if st.ocr != nil {
			allFallback = false
			confidenceSum += st.ocr.AvgConfidence
			confidencePages++
		}
		if strings.TrimSpace(text) != "" {
			pageTexts = append(pageTexts, chunker.PageText{Number: st.page.Number, Text: text})
		}
	}
	if allFallback && len(pageTexts) == 0 {
		return fail(StepOCR, fmt.Errorf("pages could not be rasterized and contain no extractable text"))
	}

	// PDF Generation: compose the searchable PDF from the OCR'd pages. A
	// text-fallback document keeps its source PDF unchanged.
	if err := p.store.SetProcessing(ctx, req.DocumentID, StepPDFGeneration); err != nil {
		return fail(StepPDFGeneration, err)
	}
	var pdfBytes []byte
	var composerPages []pdfgen.Page
	for _, st := range states {
		if st.ocr != nil {
			composerPages = append(composerPages, pdfgen.Page{Original: st.page.Image, OCR: st.ocr})
		}
	}
	switch {
	case len(composerPages) > 0:
		pdfBytes, err = p.composer.Compose(composerPages)
		if err != nil {
			return fail(StepPDFGeneration, err)
		}
	case strings.EqualFold(req.FileType, "pdf"):
		pdfBytes = req.Data
	default:
		return fail(StepPDFGeneration, fmt.Errorf("no pages available for PDF generation"))
	}
	if req.OutputPDFPath != "" {
		if err := os.MkdirAll(filepath.Dir(req.OutputPDFPath), 0o755); err != nil {
			return fail(StepPDFGeneration, err)
		}
		if err := os.WriteFile(req.OutputPDFPath, pdfBytes, 0o644); err != nil {
			return fail(StepPDFGeneration, err)
		}
		log.Info("searchable PDF written", "path", req.OutputPDFPath, "bytes", len(pdfBytes))
	}

	// Embedding: chunk, embed the child tier and index both tiers
	if err := p.store.SetProcessing(ctx, req.DocumentID, StepEmbedding); err != nil {
		return fail(StepEmbedding, err)
	}
	chunks, err := chunker.Split(pageTexts, p.chunkCfg)
	if err != nil {
		return fail(StepEmbedding, err)
	}
	children := chunker.Children(chunks)
	childTexts := make([]string, len(children))
	for i, c := range children {
		childTexts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, childTexts)
	if err != nil {
		return fail(StepEmbedding, err)
	}
	if err := p.indexer.IndexChunks(ctx, req.DocumentID, chunks, vectors); err != nil {
		return fail(StepEmbedding, err)
	}

	// Done
	confidenceAvg := 0.0
	if confidencePages > 0 {
		confidenceAvg = confidenceSum / float64(confidencePages)
	}
	if err := p.store.Complete(ctx, req.DocumentID, len(pages), len(chunks), confidenceAvg); err != nil {
		return fail(StepDone, err)
	}
	log.Info("document ingested",
		"pages", len(pages), "chunks", len(chunks), "avg_confidence", confidenceAvg)

	return nil
}
