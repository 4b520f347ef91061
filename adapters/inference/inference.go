package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog"
)

// Model is a calibrated linear classifier exported by the offline
// training pipeline. Weights are positional over the subsystem feature
// vector.
type Model struct {
	Weights    []float64 `json:"weights"`
	Intercept  float64   `json:"intercept"`
	Confidence float64   `json:"confidence"`
}

// Gate scores a feature vector into a bounded failure probability. It is
// strictly advisory: the diagnostic core treats every error as a
// non-fatal degradation and keeps the rule-based result.
type Gate struct {
	model  *Model
	logger zerolog.Logger
}

// NewGate loads the model file exported by the training pipeline.
func NewGate(modelPath string, logger zerolog.Logger) (*Gate, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to read model file"))
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, errors.Join(err, errors.New("failed to unmarshal model"))
	}
	if len(model.Weights) == 0 {
		return nil, errors.New("model has no weights")
	}

	logger.Info().Str("model", modelPath).Int("features", len(model.Weights)).Msg("advisory model loaded")

	return &Gate{model: &model, logger: logger.With().Str("component", "inference").Logger()}, nil
}

// Score returns the failure probability for one feature vector. The
// probability is the logistic of the linear score, so it is bounded in
// (0,1) whenever the inputs are finite.
func (g *Gate) Score(ctx context.Context, features []float64) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if len(features) != len(g.model.Weights) {
		return 0, 0, fmt.Errorf("feature vector length %d, model expects %d", len(features), len(g.model.Weights))
	}

	score := g.model.Intercept
	for i, w := range g.model.Weights {
		score += w * features[i]
	}

	prob := 1.0 / (1.0 + math.Exp(-score))
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return 0, 0, fmt.Errorf("malformed model output %v", prob)
	}

	g.logger.Debug().Float64("score", score).Float64("probability", prob).Msg("advisory score")
	return prob, g.model.Confidence, nil
}
