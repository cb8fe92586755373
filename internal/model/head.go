package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// HeadConfig sizes the trainable classification head.
type HeadConfig struct {
	Input         int     `json:"input"`
	Hidden        []int   `json:"hidden"`
	InputDropout  float64 `json:"input_dropout"`
	OutputDropout float64 `json:"output_dropout"`
}

// DefaultHeadConfig is the head used by the reference experiment.
func DefaultHeadConfig(input int) HeadConfig {
	return HeadConfig{
		Input:         input,
		Hidden:        []int{512, 325},
		InputDropout:  0.6,
		OutputDropout: 0.7,
	}
}

// Head maps pooled backbone features to one logit per row:
// BN → Dropout → Dense(relu) → BN → Dense(relu) → BN → Dropout → Dense(1).
// The sigmoid is applied by the Classifier.
type Head struct {
	cfg    HeadConfig
	layers []layer
}

func NewHead(cfg HeadConfig, rng *rand.Rand) (*Head, error) {
	if cfg.Input <= 0 {
		return nil, fmt.Errorf("model: head input width must be > 0 (got %d)", cfg.Input)
	}
	if len(cfg.Hidden) != 2 || cfg.Hidden[0] <= 0 || cfg.Hidden[1] <= 0 {
		return nil, fmt.Errorf("model: head needs 2 positive hidden widths (got %v)", cfg.Hidden)
	}
	h1, h2 := cfg.Hidden[0], cfg.Hidden[1]
	return &Head{
		cfg: cfg,
		layers: []layer{
			newBatchNorm("batch_normalization", cfg.Input),
			newDropout("dropout", cfg.InputDropout, rng),
			newDense("dense", cfg.Input, h1, relu, rng),
			newBatchNorm("batch_normalization_1", h1),
			newDense("dense_1", h1, h2, relu, rng),
			newBatchNorm("batch_normalization_2", h2),
			newDropout("dropout_1", cfg.OutputDropout, rng),
			newDense("dense_2", h2, 1, linear, rng),
		},
	}, nil
}

func (h *Head) Config() HeadConfig { return h.cfg }

// Forward returns an n×1 matrix of logits.
func (h *Head) Forward(x *mat.Dense, train bool) *mat.Dense {
	for _, l := range h.layers {
		x = l.forward(x, train)
	}
	return x
}

// Backward propagates dL/d(logits) through the head, overwriting every
// trainable gradient, and returns dL/d(features).
func (h *Head) Backward(grad *mat.Dense) *mat.Dense {
	for i := len(h.layers) - 1; i >= 0; i-- {
		grad = h.layers[i].backward(grad)
	}
	return grad
}

// Params lists every parameter, trainable or not, in layer order.
func (h *Head) Params() []*Param {
	var out []*Param
	for _, l := range h.layers {
		out = append(out, l.params()...)
	}
	return out
}

// Snapshot is a deep copy of parameter values keyed by name.
type Snapshot map[string][]float64

// Snapshot copies the current parameter values.
func (h *Head) Snapshot() Snapshot {
	s := make(Snapshot)
	for _, p := range h.Params() {
		raw := p.Value.RawMatrix().Data
		s[p.Name] = append([]float64(nil), raw...)
	}
	return s
}

// Restore loads values captured by Snapshot.
func (h *Head) Restore(s Snapshot) error {
	for _, p := range h.Params() {
		data, ok := s[p.Name]
		if !ok {
			return fmt.Errorf("model: snapshot lacks %s", p.Name)
		}
		raw := p.Value.RawMatrix().Data
		if len(data) != len(raw) {
			return fmt.Errorf("model: snapshot %s has %d values, want %d", p.Name, len(data), len(raw))
		}
		copy(raw, data)
	}
	return nil
}
