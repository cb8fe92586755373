package metrics

import (
	"fmt"
	"time"
)

// EpochMetrics is one row of the training history.
type EpochMetrics struct {
	Epoch       int           `yaml:"epoch"`
	Loss        float64       `yaml:"loss"`
	Accuracy    float64       `yaml:"accuracy"`
	ValLoss     float64       `yaml:"val_loss"`
	ValAccuracy float64       `yaml:"val_accuracy"`
	Duration    time.Duration `yaml:"duration"`
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs []EpochMetrics `yaml:"epochs"`
	// BestEpoch is the 1-based epoch with the lowest validation loss, 0 if none ran.
	BestEpoch    int  `yaml:"best_epoch"`
	EarlyStopped bool `yaml:"early_stopped"`
	// Restored reports whether the head was rolled back to BestEpoch.
	Restored bool `yaml:"restored"`
}

func (h *History) Append(e EpochMetrics) {
	h.Epochs = append(h.Epochs, e)
}

func (h *History) Len() int { return len(h.Epochs) }

// Series returns one metric across epochs. Valid names are loss, accuracy,
// val_loss and val_accuracy.
func (h *History) Series(name string) ([]float64, error) {
	pick, ok := map[string]func(EpochMetrics) float64{
		"loss":         func(e EpochMetrics) float64 { return e.Loss },
		"accuracy":     func(e EpochMetrics) float64 { return e.Accuracy },
		"val_loss":     func(e EpochMetrics) float64 { return e.ValLoss },
		"val_accuracy": func(e EpochMetrics) float64 { return e.ValAccuracy },
	}[name]
	if !ok {
		return nil, fmt.Errorf("metrics: unknown history series %q", name)
	}
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = pick(e)
	}
	return out, nil
}

// Best returns the metrics of BestEpoch.
func (h *History) Best() (EpochMetrics, bool) {
	if h.BestEpoch < 1 || h.BestEpoch > len(h.Epochs) {
		return EpochMetrics{}, false
	}
	return h.Epochs[h.BestEpoch-1], true
}
