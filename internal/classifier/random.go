package classifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/example/tea-grade/internal/imagekit"
)

// Random is the stand-in strategy used until a trained model is available.
// It ignores pixel content: cultivar and grade are drawn independently and
// uniformly, confidence uniformly from [min, max].
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
	min float64
	max float64
}

// NewRandom returns a Random strategy drawing from rng.
func NewRandom(rng *rand.Rand, min, max float64) (*Random, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if min < 0 || max > 1 || min > max {
		return nil, fmt.Errorf("invalid confidence bounds [%v, %v]", min, max)
	}
	return &Random{rng: rng, min: min, max: max}, nil
}

// NewSeededRandom is a convenience for a PCG source seeded with seed.
func NewSeededRandom(seed uint64, min, max float64) (*Random, error) {
	return NewRandom(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), min, max)
}

// Classify never fails.
func (r *Random) Classify(_ context.Context, _ *imagekit.NormalizedImage) (Prediction, error) {
	r.mu.Lock()
	cultivar := Cultivars[r.rng.IntN(len(Cultivars))]
	grade := Grades[r.rng.IntN(len(Grades))]
	u := r.rng.Float64()
	r.mu.Unlock()

	confidence := RoundConfidence(r.min + u*(r.max-r.min))
	if confidence < r.min {
		confidence = r.min
	}
	if confidence > r.max {
		confidence = r.max
	}

	return Prediction{Cultivar: cultivar, Grade: grade, Confidence: confidence}, nil
}
