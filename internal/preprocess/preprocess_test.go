package preprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func degToTheta(deg float64) float64 {
	return deg*math.Pi/180 + math.Pi/2
}

func TestDeviationAnglesConvertsFromVertical(t *testing.T) {
	thetas := []float64{degToTheta(2), degToTheta(-3), degToTheta(0)}
	angles := deviationAngles(thetas)

	assert.Len(t, angles, 3)
	assert.InDelta(t, 2, angles[0], 1e-9)
	assert.InDelta(t, -3, angles[1], 1e-9)
	assert.InDelta(t, 0, angles[2], 1e-9)
}

func TestDeviationAnglesFiltersSteepLines(t *testing.T) {
	thetas := []float64{degToTheta(1.5), degToTheta(80), degToTheta(-60)}
	angles := deviationAngles(thetas)

	assert.Len(t, angles, 1)
	assert.InDelta(t, 1.5, angles[0], 1e-9)
}

func TestDeviationAnglesCapsLineCount(t *testing.T) {
	thetas := make([]float64, maxHoughLines+15)
	for i := range thetas {
		thetas[i] = degToTheta(1)
	}
	assert.Len(t, deviationAngles(thetas), maxHoughLines)
}

func TestSkewAngleMedian(t *testing.T) {
	angle, rotate := skewAngle([]float64{1.0, 2.0, 30.0})
	assert.True(t, rotate)
	assert.InDelta(t, 2.0, angle, 1e-9, "median resists the 30 degree outlier")

	angle, rotate = skewAngle([]float64{1.0, 3.0})
	assert.True(t, rotate)
	assert.InDelta(t, 2.0, angle, 1e-9)
}

func TestSkewAngleNoiseThreshold(t *testing.T) {
	_, rotate := skewAngle([]float64{0.1, -0.2, 0.3})
	assert.False(t, rotate, "sub-threshold medians must not trigger rotation")

	angle, rotate := skewAngle([]float64{-0.6, -0.7, -0.8})
	assert.True(t, rotate)
	assert.InDelta(t, -0.7, angle, 1e-9)
}

func TestSkewAngleEmpty(t *testing.T) {
	angle, rotate := skewAngle(nil)
	assert.False(t, rotate)
	assert.Zero(t, angle)
}
