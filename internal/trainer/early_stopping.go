package trainer

import "math"

// EarlyStopping watches the validation loss and signals a stop once it has
// failed to improve for Patience consecutive epochs.
type EarlyStopping struct {
	Patience int

	best      float64
	bestEpoch int
	wait      int
	started   bool
}

func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience}
}

// Update records the validation loss of a 1-based epoch. improved reports a new
// best; stop reports that patience is exhausted.
func (e *EarlyStopping) Update(epoch int, valLoss float64) (improved, stop bool) {
	if !e.started {
		e.best = math.Inf(1)
		e.started = true
	}
	if valLoss < e.best {
		e.best = valLoss
		e.bestEpoch = epoch
		e.wait = 0
		return true, false
	}
	e.wait++
	return false, e.wait >= e.Patience
}

// Best returns the lowest loss seen and the epoch it was seen in (0 if none).
func (e *EarlyStopping) Best() (loss float64, epoch int) {
	return e.best, e.bestEpoch
}
