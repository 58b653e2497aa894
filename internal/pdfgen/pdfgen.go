/**
 * Searchable PDF Composer
 *
 * Builds a multi-page PDF with the original page image as an opaque
 * background and an invisible, geometrically aligned text layer from the OCR
 * word boxes. Text invisibility comes from zero opacity, not omission, so
 * words stay selectable and searchable while visually absent.
 */

package pdfgen

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/scandock/ingest-worker/internal/ocr"
)

const (
	// referenceDPI is the fixed pixel-to-point conversion basis
	referenceDPI = 96.0

	// minWordConfidence excludes low-confidence words from the text layer
	minWordConfidence = 20.0

	// minFontSize in points; tiny boxes still get legible selectable text
	minFontSize = 4.0
)

// Page pairs an original (un-preprocessed) page image with its OCR result
type Page struct {
	Original image.Image
	OCR      *ocr.PageResult
}

// PlacedWord is a word box mapped into page units. Y is measured bottom-up,
// the PDF page coordinate convention, already flipped from the raster
// top-down convention.
type PlacedWord struct {
	X        float64
	Y        float64
	Width    float64
	Height   float64
	FontSize float64
}

// Composer builds searchable PDFs
type Composer struct{}

// NewComposer creates a composer
func NewComposer() *Composer {
	return &Composer{}
}

// ToPoints converts pixels to page points at the fixed reference resolution
func ToPoints(pixels float64) float64 {
	return pixels * 72.0 / referenceDPI
}

// MapWordBox maps a word box from the OCR image's pixel space into page-unit
// coordinates for an original image of origW x origH pixels. The x and y
// scale factors are independent, and the vertical axis is flipped because
// raster rows grow downward while page units grow upward.
func MapWordBox(wb ocr.WordBox, ocrW, ocrH, origW, origH int) PlacedWord {
	scaleX := float64(origW) / float64(ocrW)
	scaleY := float64(origH) / float64(ocrH)

	pageH := ToPoints(float64(origH))
	w := ToPoints(float64(wb.Width) * scaleX)
	h := ToPoints(float64(wb.Height) * scaleY)
	x := ToPoints(float64(wb.Left) * scaleX)
	y := pageH - ToPoints(float64(wb.Top)*scaleY) - h

	return PlacedWord{
		X:        x,
		Y:        y,
		Width:    w,
		Height:   h,
		FontSize: math.Max(minFontSize, 0.9*h),
	}
}

// Compose builds one multi-page PDF from the ordered page pairs. Each page is
// sized to that pair's original image dimensions. Pairs without an image
// (fallback-text pages) must not be passed here; the pipeline reuses the
// source document for those.
func (c *Composer) Compose(pages []Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages provided for PDF generation")
	}

	first := pages[0]
	firstBounds := first.Original.Bounds()
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size: fpdf.SizeType{
			Wd: ToPoints(float64(firstBounds.Dx())),
			Ht: ToPoints(float64(firstBounds.Dy())),
		},
	})
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, page := range pages {
		if page.Original == nil || page.OCR == nil {
			return nil, fmt.Errorf("page %d: original image and OCR result are required", i+1)
		}

		bounds := page.Original.Bounds()
		origW, origH := bounds.Dx(), bounds.Dy()
		pageW := ToPoints(float64(origW))
		pageH := ToPoints(float64(origH))

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: pageW, Ht: pageH})

		// Opaque background: the original image filling the full page
		var buf bytes.Buffer
		if err := png.Encode(&buf, page.Original); err != nil {
			return nil, fmt.Errorf("page %d: failed to encode background image: %w", page.OCR.PageNumber, err)
		}
		imgName := fmt.Sprintf("page-%d", page.OCR.PageNumber)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.SetAlpha(1.0, "Normal")
		pdf.RegisterImageOptionsReader(imgName, opts, &buf)
		pdf.ImageOptions(imgName, 0, 0, pageW, pageH, false, opts, 0, "")

		// Invisible text layer aligned to the word boxes
		pdf.SetAlpha(0.0, "Normal")
		for _, wb := range page.OCR.Words {
			if wb.Confidence < minWordConfidence || strings.TrimSpace(wb.Text) == "" {
				continue
			}

			placed := MapWordBox(wb, page.OCR.ImageWidth, page.OCR.ImageHeight, origW, origH)
			pdf.SetFont("Helvetica", "", placed.FontSize)
			// fpdf measures Y top-down from the page's upper edge; the
			// bottom-up placed.Y converts to a baseline at the box bottom.
			pdf.Text(placed.X, pageH-placed.Y, tr(wb.Text))
		}
	}
	pdf.SetAlpha(1.0, "Normal")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return out.Bytes(), nil
}
