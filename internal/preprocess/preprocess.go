/**
 * Image Preprocessor
 *
 * Normalizes one raw page image into an OCR-ready binarized image through a
 * fixed OpenCV pipeline: upscale, grayscale, Hough-line deskew, CLAHE contrast
 * enhancement, non-local-means denoising, Otsu binarization. The original
 * image is preserved untouched for the searchable-PDF background layer.
 */

package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"

	pkgerrors "github.com/scandock/ingest-worker/internal/errors"
)

const (
	// minOCRDimension is the minimum size of the image's smaller side;
	// below it the page is upscaled before OCR (300 DPI equivalent).
	minOCRDimension = 1000

	// skewNoiseThreshold in degrees; smaller measured skews are left alone
	skewNoiseThreshold = 0.5

	// maxHoughLines caps how many detected lines vote on the skew angle
	maxHoughLines = 20
)

// Result holds both outputs of preprocessing one page
type Result struct {
	Original image.Image // unmodified input, for PDF background compositing
	Binary   image.Image // strict black/white image, OCR input
}

// Preprocessor runs the normalization pipeline
type Preprocessor struct{}

// NewPreprocessor creates a preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Process runs the full pipeline on one page image. Any stage fault is
// reported as a stage failure so the caller can exclude the page without
// aborting the document.
func (p *Preprocessor) Process(src image.Image) (res *Result, err error) {
	// OpenCV reports invalid-argument faults as panics through cgo
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = pkgerrors.NewStageFailure("", 0, "preprocess", fmt.Errorf("opencv: %v", r))
		}
	}()

	if src == nil {
		return nil, pkgerrors.NewStageFailure("", 0, "preprocess", fmt.Errorf("nil image"))
	}

	mat, cvErr := gocv.ImageToMatRGB(src)
	if cvErr != nil {
		return nil, pkgerrors.NewStageFailure("", 0, "preprocess", fmt.Errorf("image conversion: %w", cvErr))
	}
	defer mat.Close()

	// 1. Upscale when the smaller dimension is under the OCR minimum.
	// The original image is never touched by this step.
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if minDim := min(w, h); minDim > 0 && minDim < minOCRDimension {
		scale := float64(minOCRDimension) / float64(minDim)
		scaled := gocv.NewMat()
		gocv.Resize(mat, &scaled, image.Pt(int(float64(w)*scale), int(float64(h)*scale)),
			0, 0, gocv.InterpolationLanczos4)
		mat.Close()
		mat = scaled
	}

	// 2. Grayscale
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	// 3. Deskew
	deskewed := p.deskew(gray)
	defer deskewed.Close()

	// 4. Local contrast enhancement
	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	enhanced := gocv.NewMat()
	defer enhanced.Close()
	clahe.Apply(deskewed, &enhanced)
	clahe.Close()

	// 5. Non-local-means denoising tuned for document scans
	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(enhanced, &denoised, 10, 7, 21)

	// 6. Otsu binarization
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(denoised, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	binaryImg, cvErr := binary.ToImage()
	if cvErr != nil {
		return nil, pkgerrors.NewStageFailure("", 0, "preprocess", fmt.Errorf("binary conversion: %w", cvErr))
	}

	return &Result{Original: src, Binary: binaryImg}, nil
}

// deskew corrects page rotation using Canny edges and a Hough line transform.
// Returns a clone of gray when no usable correction exists.
func (p *Preprocessor) deskew(gray gocv.Mat) gocv.Mat {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLines(edges, &lines, 1, math.Pi/180, 100)

	thetas := make([]float64, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVecfAt(i, 0)
		if len(v) < 2 {
			continue
		}
		thetas = append(thetas, float64(v[1]))
	}

	angle, ok := skewAngle(deviationAngles(thetas))
	if !ok {
		return gray.Clone()
	}

	w, h := gray.Cols(), gray.Rows()
	rot := gocv.GetRotationMatrix2D(image.Pt(w/2, h/2), angle, 1.0)
	defer rot.Close()

	rotated := gocv.NewMat()
	gocv.WarpAffineWithParams(gray, &rotated, rot, image.Pt(w, h),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return rotated
}

// deviationAngles converts Hough thetas (radians) into degrees of deviation
// from vertical, keeping only the first maxHoughLines lines and deviations
// within ±45°.
func deviationAngles(thetas []float64) []float64 {
	if len(thetas) > maxHoughLines {
		thetas = thetas[:maxHoughLines]
	}

	angles := make([]float64, 0, len(thetas))
	for _, theta := range thetas {
		angle := (theta - math.Pi/2) * (180 / math.Pi)
		if math.Abs(angle) < 45 {
			angles = append(angles, angle)
		}
	}
	return angles
}

// skewAngle computes the median deviation and reports whether a rotation is
// warranted. Medians below the noise threshold are treated as already level.
func skewAngle(angles []float64) (float64, bool) {
	if len(angles) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(angles))
	copy(sorted, angles)
	sort.Float64s(sorted)

	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	if math.Abs(median) < skewNoiseThreshold {
		return 0, false
	}
	return median, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
