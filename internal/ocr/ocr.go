/**
 * OCR Extractor
 *
 * Runs Tesseract on one preprocessed page image and returns the continuous
 * transcription plus per-word geometry and confidence. Uses automatic page
 * segmentation, so multi-column layouts are handled without assumptions.
 */

package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// WordBox is one recognized word with its bounding box, in the pixel space of
// the preprocessed image handed to the extractor (not the original image).
type WordBox struct {
	Text       string
	Left       int
	Top        int
	Width      int
	Height     int
	Confidence float64 // 0..100
}

// PageResult is the OCR output for one page
type PageResult struct {
	PageNumber    int
	Text          string
	Words         []WordBox
	AvgConfidence float64
	ImageWidth    int
	ImageHeight   int
}

// Extractor performs OCR on preprocessed page images
type Extractor struct {
	tesseractPath string
}

// NewExtractor creates an extractor. tesseractPath may be empty to rely on
// the library's default data path.
func NewExtractor(tesseractPath string) *Extractor {
	return &Extractor{tesseractPath: tesseractPath}
}

// Extract runs OCR on one preprocessed binary image.
// A fresh Tesseract client is created per call: the client is not safe for
// concurrent use and pages are extracted on a shared worker pool.
func (e *Extractor) Extract(img image.Image, pageNumber int) (*PageResult, error) {
	if img == nil {
		return nil, fmt.Errorf("image is required")
	}

	bounds := img.Bounds()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	// Automatic page segmentation: no single-column assumption
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get word boxes: %w", err)
	}

	words := make([]WordBox, 0, len(boxes))
	for _, b := range boxes {
		// Words with absent confidence or blank text are excluded entirely;
		// they must never be counted as zero-confidence.
		if b.Confidence < 0 || strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, WordBox{
			Text:       strings.TrimSpace(b.Word),
			Left:       b.Box.Min.X,
			Top:        b.Box.Min.Y,
			Width:      b.Box.Dx(),
			Height:     b.Box.Dy(),
			Confidence: b.Confidence,
		})
	}

	return &PageResult{
		PageNumber:    pageNumber,
		Text:          strings.TrimSpace(text),
		Words:         words,
		AvgConfidence: AverageConfidence(words),
		ImageWidth:    bounds.Dx(),
		ImageHeight:   bounds.Dy(),
	}, nil
}

// AverageConfidence is the arithmetic mean over the included words only,
// 0.0 when none qualified.
func AverageConfidence(words []WordBox) float64 {
	if len(words) == 0 {
		return 0.0
	}

	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
