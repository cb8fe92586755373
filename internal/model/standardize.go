package model

import (
	"fmt"

	"pneumonia-classifier/internal/imaging"
)

// Standardization is the featurewise input scaling fitted on the training
// images. A classifier trained on standardized inputs needs the same scaling
// at inference, so it is stored in the checkpoint.
type Standardization struct {
	Center bool      `json:"center,omitempty"`
	Scale  bool      `json:"scale,omitempty"`
	Mean   []float64 `json:"mean,omitempty"`
	Std    []float64 `json:"std,omitempty"`
}

func (s Standardization) Enabled() bool { return s.Center || s.Scale }

// Apply scales t in place: subtract the channel mean, then divide by the
// channel standard deviation plus 1e-6.
func (s Standardization) Apply(t imaging.Tensor) error {
	if !s.Enabled() {
		return nil
	}
	if len(s.Mean) != t.C || len(s.Std) != t.C {
		return fmt.Errorf("model: standardization has %d/%d channel statistics for a %d-channel input", len(s.Mean), len(s.Std), t.C)
	}
	for i := range t.Data {
		ch := i % t.C
		if s.Center {
			t.Data[i] -= s.Mean[ch]
		}
		if s.Scale {
			t.Data[i] /= s.Std[ch] + 1e-6
		}
	}
	return nil
}
