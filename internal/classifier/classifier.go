// Package classifier defines the prediction contract for tea leaf images and
// the strategies that fulfil it.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/example/tea-grade/internal/imagekit"
)

// Cultivar is the tea-plant variety label.
type Cultivar string

const (
	Yabukita    Cultivar = "Yabukita"
	Saemidori   Cultivar = "Saemidori"
	Tsuyuhikari Cultivar = "Tsuyuhikari"
)

// Cultivars lists every cultivar label in a stable order.
var Cultivars = []Cultivar{Yabukita, Saemidori, Tsuyuhikari}

// Grade is the quality-tier label.
type Grade string

const (
	Premium Grade = "Premium"
	Medium  Grade = "Medium"
	Low     Grade = "Low"
)

// Grades lists every grade label in a stable order.
var Grades = []Grade{Premium, Medium, Low}

// ConfidencePrecision is the number of decimal places reported.
const ConfidencePrecision = 3

// Valid reports whether c is a known cultivar.
func (c Cultivar) Valid() bool {
	for _, known := range Cultivars {
		if c == known {
			return true
		}
	}
	return false
}

// Valid reports whether g is a known grade.
func (g Grade) Valid() bool {
	for _, known := range Grades {
		if g == known {
			return true
		}
	}
	return false
}

// Prediction is the outcome of classifying a single image.
type Prediction struct {
	Cultivar   Cultivar
	Grade      Grade
	Confidence float64
}

// Validate checks the labels and that the confidence lies in [min, max].
func (p Prediction) Validate(min, max float64) error {
	if !p.Cultivar.Valid() {
		return fmt.Errorf("unknown cultivar %q", p.Cultivar)
	}
	if !p.Grade.Valid() {
		return fmt.Errorf("unknown grade %q", p.Grade)
	}
	if math.IsNaN(p.Confidence) || p.Confidence < min || p.Confidence > max {
		return fmt.Errorf("confidence %v outside [%v, %v]", p.Confidence, min, max)
	}
	return nil
}

// Classifier maps a normalized image to a prediction. Implementations must
// be safe for concurrent use and must return confidences within the bounds
// the service was configured with.
type Classifier interface {
	Classify(ctx context.Context, img *imagekit.NormalizedImage) (Prediction, error)
}

// RoundConfidence rounds to ConfidencePrecision decimal places.
func RoundConfidence(v float64) float64 {
	scale := math.Pow10(ConfidencePrecision)
	return math.Round(v*scale) / scale
}
