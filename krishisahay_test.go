package krishisahay_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

func TestClampThreshold(t *testing.T) {
	assert.Equal(t, 0.1, krishisahay.ClampThreshold(0))
	assert.Equal(t, 0.9, krishisahay.ClampThreshold(1.5))
	assert.Equal(t, 0.25, krishisahay.ClampThreshold(0.25))
	assert.Equal(t, krishisahay.DefaultConfidenceThreshold, krishisahay.ClampThreshold(math.NaN()))
}

func TestCards(t *testing.T) {
	r := &krishisahay.DetectionResult{
		Success:        true,
		DetectionCount: 1,
		Detections: []krishisahay.Detection{
			{ClassName: "Leaf Blight", Confidence: 0.87, Severity: krishisahay.SeverityModerate},
		},
	}
	cards := r.Cards()
	assert.Equal(t, []krishisahay.Card{{Title: "Leaf Blight", Confidence: "87%", Severity: "moderate"}}, cards)
	assert.Contains(t, r.String(), "Leaf Blight (87%, moderate)")

	var nilResult *krishisahay.DetectionResult
	assert.Nil(t, nilResult.Cards())
	assert.Empty(t, nilResult.Classes())
}

func TestClassesKeepsHighest(t *testing.T) {
	r := &krishisahay.DetectionResult{
		Detections: []krishisahay.Detection{
			{ClassName: "Rust", Confidence: 0.4},
			{ClassName: "Rust", Confidence: 0.7},
			{ClassName: "Leaf Spot", Confidence: 0.3},
		},
	}
	assert.Equal(t, map[string]float64{"Rust": 0.7, "Leaf Spot": 0.3}, r.Classes())
}

func TestSeverityValid(t *testing.T) {
	assert.True(t, krishisahay.SeveritySevere.Valid())
	assert.False(t, krishisahay.Severity("critical").Valid())
}
