// Package krishisahay holds the detection types shared by the camera and
// detection packages of the Krishi Sahay field SDK.
package krishisahay

import (
	"fmt"
	"math"
	"strings"
)

// Severity classifies how advanced a detected disease is.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// Confidence threshold bounds accepted by the inference endpoint.
const (
	MinConfidenceThreshold     = 0.1
	MaxConfidenceThreshold     = 0.9
	DefaultConfidenceThreshold = 0.25
)

// ClampThreshold limits t to [MinConfidenceThreshold, MaxConfidenceThreshold].
// NaN is replaced by DefaultConfidenceThreshold.
func ClampThreshold(t float64) float64 {
	if math.IsNaN(t) {
		return DefaultConfidenceThreshold
	}
	return math.Max(MinConfidenceThreshold, math.Min(MaxConfidenceThreshold, t))
}

// Detection is one disease instance found in an image.
type Detection struct {
	ClassName     string      `json:"class_name"`
	Confidence    float64     `json:"confidence"` // 0..1
	Severity      Severity    `json:"severity"`
	OriginalClass string      `json:"original_class,omitempty"`
	BoundingBox   *[4]float64 `json:"bbox,omitempty"` // x1, y1, x2, y2 in image pixels.
}

// ConfidencePercent returns the confidence rounded to a whole percentage, eg "87%".
func (d Detection) ConfidencePercent() string {
	return fmt.Sprintf("%d%%", int(math.Round(d.Confidence*100)))
}

// DetectionResult is the parsed response of the inference endpoint.
//
// After parsing, DetectionCount always equals len(Detections).
type DetectionResult struct {
	Success           bool        `json:"success"`
	DetectionCount    int         `json:"detection_count"`
	Detections        []Detection `json:"detections"`
	ProcessedImageURL string      `json:"processed_image_url,omitempty"`
	ProcessingTime    float64     `json:"processing_time,omitempty"` // Seconds.
}

// Card is the display form of a single detection.
type Card struct {
	Title      string `json:"title"`
	Confidence string `json:"confidence"`
	Severity   string `json:"severity"`
}

// Cards returns one card per detection, in response order.
func (r *DetectionResult) Cards() []Card {
	if r == nil {
		return nil
	}
	cards := make([]Card, 0, len(r.Detections))
	for _, d := range r.Detections {
		cards = append(cards, Card{
			Title:      d.ClassName,
			Confidence: d.ConfidencePercent(),
			Severity:   string(d.Severity),
		})
	}
	return cards
}

// Classes returns the confidence per class name, keeping the highest
// confidence if a class was detected more than once.
func (r *DetectionResult) Classes() map[string]float64 {
	m := map[string]float64{}
	if r == nil {
		return m
	}
	for _, d := range r.Detections {
		if v, ok := m[d.ClassName]; !ok || d.Confidence > v {
			m[d.ClassName] = d.Confidence
		}
	}
	return m
}

// String returns a one-line summary of the result.
func (r *DetectionResult) String() string {
	if r == nil {
		return "(no result)"
	}
	if !r.Success {
		return "detection unsuccessful"
	}
	if len(r.Detections) == 0 {
		return fmt.Sprintf("no detections in %.2fs", r.ProcessingTime)
	}
	var l []string
	for _, c := range r.Cards() {
		l = append(l, fmt.Sprintf("%s (%s, %s)", c.Title, c.Confidence, c.Severity))
	}
	return fmt.Sprintf("%d detections in %.2fs: %s", len(r.Detections), r.ProcessingTime, strings.Join(l, ", "))
}
