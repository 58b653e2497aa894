package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverageConfidenceEmpty(t *testing.T) {
	assert.Equal(t, 0.0, AverageConfidence(nil))
	assert.Equal(t, 0.0, AverageConfidence([]WordBox{}))
}

func TestAverageConfidenceMean(t *testing.T) {
	words := []WordBox{
		{Text: "alpha", Confidence: 90},
		{Text: "beta", Confidence: 70},
		{Text: "gamma", Confidence: 80},
	}
	assert.InDelta(t, 80.0, AverageConfidence(words), 1e-9)
}

func TestAverageConfidenceSingleWord(t *testing.T) {
	assert.InDelta(t, 42.5, AverageConfidence([]WordBox{{Text: "solo", Confidence: 42.5}}), 1e-9)
}
