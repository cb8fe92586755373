// Package metrics holds training throughput windows, per-epoch history and
// the evaluation measures used to pick a decision threshold.
package metrics

import "time"

// Window accumulates timing and loss stats across multiple batches.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	loss     float64
	accuracy float64
	lastLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss, accuracy float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.loss += loss
	w.accuracy += accuracy
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgLoss = w.loss / float64(w.steps)
		snap.AvgAccuracy = w.accuracy / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLoss      float64
	AvgAccuracy  float64
	LastLoss     float64
}
