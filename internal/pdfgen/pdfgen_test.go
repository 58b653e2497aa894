package pdfgen

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scandock/ingest-worker/internal/ocr"
)

func TestToPoints(t *testing.T) {
	assert.InDelta(t, 72.0, ToPoints(96), 1e-9)
	assert.InDelta(t, 36.0, ToPoints(48), 1e-9)
	assert.Zero(t, ToPoints(0))
}

func TestMapWordBoxSameSize(t *testing.T) {
	// OCR image and original image share dimensions: scale is 1 and only the
	// vertical flip applies.
	wb := ocr.WordBox{Text: "word", Left: 100, Top: 50, Width: 40, Height: 20, Confidence: 90}
	placed := MapWordBox(wb, 1000, 1400, 1000, 1400)

	pageH := ToPoints(1400)
	assert.InDelta(t, ToPoints(100), placed.X, 1e-9)
	assert.InDelta(t, ToPoints(40), placed.Width, 1e-9)
	assert.InDelta(t, ToPoints(20), placed.Height, 1e-9)
	assert.InDelta(t, pageH-ToPoints(50)-ToPoints(20), placed.Y, 1e-9)
}

func TestMapWordBoxScalesIndependently(t *testing.T) {
	// Preprocessing upscaled the OCR image 2x in both axes relative to the
	// original; the mapping must scale coordinates back down.
	wb := ocr.WordBox{Text: "word", Left: 200, Top: 100, Width: 80, Height: 40, Confidence: 90}
	placed := MapWordBox(wb, 2000, 2800, 1000, 1400)

	pageH := ToPoints(1400)
	assert.InDelta(t, ToPoints(100), placed.X, 1e-9)
	assert.InDelta(t, ToPoints(40), placed.Width, 1e-9)
	assert.InDelta(t, ToPoints(20), placed.Height, 1e-9)
	assert.InDelta(t, pageH-ToPoints(50)-ToPoints(20), placed.Y, 1e-9)
}

func TestMapWordBoxFontSize(t *testing.T) {
	tall := MapWordBox(ocr.WordBox{Height: 40}, 100, 100, 100, 100)
	assert.InDelta(t, 0.9*ToPoints(40), tall.FontSize, 1e-9)

	// Tiny boxes clamp to the minimum legible size
	tiny := MapWordBox(ocr.WordBox{Height: 2}, 100, 100, 100, 100)
	assert.InDelta(t, minFontSize, tiny.FontSize, 1e-9)
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestComposeEmptyPages(t *testing.T) {
	c := NewComposer()
	_, err := c.Compose(nil)
	assert.Error(t, err)
}

func TestComposeRejectsMissingImage(t *testing.T) {
	c := NewComposer()
	_, err := c.Compose([]Page{{Original: nil, OCR: &ocr.PageResult{PageNumber: 1}}})
	assert.Error(t, err)
}

func TestComposeProducesPDF(t *testing.T) {
	c := NewComposer()
	pages := []Page{
		{
			Original: testImage(200, 300),
			OCR: &ocr.PageResult{
				PageNumber:  1,
				ImageWidth:  200,
				ImageHeight: 300,
				Words: []ocr.WordBox{
					{Text: "hello", Left: 10, Top: 20, Width: 50, Height: 12, Confidence: 95},
					{Text: "faint", Left: 10, Top: 40, Width: 50, Height: 12, Confidence: 10},
				},
			},
		},
		{
			Original: testImage(300, 200),
			OCR: &ocr.PageResult{
				PageNumber:  2,
				ImageWidth:  300,
				ImageHeight: 200,
				Words:       []ocr.WordBox{{Text: "world", Left: 5, Top: 5, Width: 60, Height: 14, Confidence: 88}},
			},
		},
	}

	out, err := c.Compose(pages)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "%PDF", string(out[:4]))
}
