/**
 * Page Loader
 *
 * Turns an input byte stream plus a declared file type into an ordered
 * sequence of page images. PDF pages are rasterized through MuPDF (go-fitz);
 * when rasterization fails the loader falls back to per-page embedded text
 * with nil images, so a scanned-PDF pipeline degrades instead of aborting.
 */

package loader

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"image/gif"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/tiff"

	pkgerrors "github.com/scandock/ingest-worker/internal/errors"
	"github.com/scandock/ingest-worker/internal/logging"
)

// Page is one loaded page. Image is nil when rasterization fell back to the
// document's embedded text layer; FallbackText then holds that page's text.
type Page struct {
	Number       int // 1-based, stable across all downstream artifacts
	Image        image.Image
	FallbackText string
}

// Fallback reports whether this page carries text instead of pixels
func (p Page) Fallback() bool {
	return p.Image == nil
}

// Loader loads documents into page sequences
type Loader struct {
	dpi float64
	log *logging.Logger
}

// NewLoader creates a loader rasterizing PDF pages at the given DPI
func NewLoader(dpi int) *Loader {
	if dpi <= 0 {
		dpi = 200
	}
	return &Loader{
		dpi: float64(dpi),
		log: logging.NewLogger("loader"),
	}
}

// Load produces the ordered page sequence for the given payload.
// Supported types: .pdf, .png, .jpg, .jpeg, .tif, .tiff, .gif.
func (l *Loader) Load(data []byte, fileType string) ([]Page, error) {
	if len(data) == 0 {
		return nil, pkgerrors.NewInputError("empty payload")
	}

	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "pdf":
		return l.loadPDF(data)
	case "png", "jpg", "jpeg", "tif", "tiff":
		return l.loadImage(data)
	case "gif":
		return l.loadGIF(data)
	default:
		return nil, pkgerrors.NewInputError(fmt.Sprintf("unsupported file type: %s", fileType))
	}
}

// loadPDF rasterizes every page; on any rasterization failure it retries the
// whole document as embedded-text pages with nil images.
func (l *Loader) loadPDF(data []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, pkgerrors.NewRasterizationUnavailable("", fmt.Errorf("failed to open PDF: %w", err))
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, pkgerrors.NewInputError("PDF has no pages")
	}

	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		img, err := doc.ImageDPI(i, l.dpi)
		if err != nil {
			l.log.Warn("page rasterization failed, falling back to embedded text",
				"page", i+1, "error", err)
			return l.loadPDFText(doc, total)
		}
		pages = append(pages, Page{Number: i + 1, Image: img})
	}

	return pages, nil
}

// loadPDFText extracts each page's embedded text layer, yielding nil images
// for every page position.
func (l *Loader) loadPDFText(doc *fitz.Document, total int) ([]Page, error) {
	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		text, err := doc.Text(i)
		if err != nil {
			// A page with neither pixels nor text still occupies its position.
			l.log.Warn("embedded text extraction failed", "page", i+1, "error", err)
			text = ""
		}
		pages = append(pages, Page{Number: i + 1, FallbackText: text})
	}
	return pages, nil
}

// loadImage decodes a single-frame raster image as one page
func (l *Loader) loadImage(data []byte) ([]Page, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// image.Decode only knows registered formats; TIFF needs x/image
		if tiffImg, tiffErr := tiff.Decode(bytes.NewReader(data)); tiffErr == nil {
			return []Page{{Number: 1, Image: tiffImg}}, nil
		}
		return nil, pkgerrors.NewInputError(fmt.Sprintf("failed to decode image: %v", err))
	}
	return []Page{{Number: 1, Image: img}}, nil
}

// loadGIF decodes every frame of a GIF as its own page, in frame order
func (l *Loader) loadGIF(data []byte) ([]Page, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, pkgerrors.NewInputError(fmt.Sprintf("failed to decode GIF: %v", err))
	}
	if len(g.Image) == 0 {
		return nil, pkgerrors.NewInputError("GIF has no frames")
	}

	pages := make([]Page, 0, len(g.Image))
	for i, frame := range g.Image {
		pages = append(pages, Page{Number: i + 1, Image: frame})
	}
	return pages, nil
}
