// Package trainer fits the classification head and runs the end-to-end
// training pipeline.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"pneumonia-classifier/internal/augment"
	"pneumonia-classifier/internal/dataset"
	"pneumonia-classifier/internal/logging"
	"pneumonia-classifier/internal/metrics"
	"pneumonia-classifier/internal/model"
)

// FitConfig captures the knobs required by the training loop.
type FitConfig struct {
	BatchSize          int
	Epochs             int
	Patience           int
	RestoreBestWeights bool
	Seed               int64
	LogEvery           int
}

// Validation is the held-out set as precomputed backbone features.
type Validation struct {
	Features *mat.Dense
	Labels   []int
}

// Fit trains m on augmented batches of train, evaluating on val after every
// epoch. On cancellation the history so far is returned with ctx.Err().
func Fit(ctx context.Context, m model.Model, gen *augment.Generator, train []dataset.Sample, val Validation, cfg FitConfig) (*metrics.History, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if len(train) == 0 {
		return nil, errors.New("trainer: no training samples")
	}
	if val.Features == nil || len(val.Labels) == 0 {
		return nil, errors.New("trainer: no validation samples")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 20
	}
	patience := cfg.Patience
	if patience <= 0 {
		patience = cfg.Epochs
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	stopper := NewEarlyStopping(patience)
	history := &metrics.History{}
	var best model.Snapshot
	var window metrics.Window
	step := 0

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		it, err := gen.Flow(train, cfg.BatchSize, rng)
		if err != nil {
			return history, err
		}

		var lossSum, accSum float64
		seen := 0
		for {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			startData := time.Now()
			inputs, labels, ok := it.Next()
			if !ok {
				break
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			res, err := m.TrainStep(ctx, model.Batch{Inputs: inputs, Labels: labels})
			if err != nil {
				return history, fmt.Errorf("trainer: epoch %d: %w", epoch, err)
			}
			computeTime := time.Since(startCompute)

			n := float64(len(labels))
			lossSum += res.Loss * n
			accSum += res.Accuracy * n
			seen += len(labels)
			window.Record(len(labels), dataTime, computeTime, res.Loss, res.Accuracy)

			step++
			if step%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				logging.Debug("throughput", logging.Training,
					"epoch", epoch,
					"step", step,
					"images_per_sec", snap.ImagesPerSec,
					"data_ms", snap.AvgDataMS,
					"compute_ms", snap.AvgComputeMS,
					"loss", snap.AvgLoss)
			}
		}

		valRes := m.EvaluateFeatures(val.Features, val.Labels)
		row := metrics.EpochMetrics{
			Epoch:       epoch,
			Loss:        lossSum / float64(seen),
			Accuracy:    accSum / float64(seen),
			ValLoss:     valRes.Loss,
			ValAccuracy: valRes.Accuracy,
			Duration:    time.Since(start),
		}
		history.Append(row)
		logging.Info("epoch done", logging.Training,
			"epoch", epoch,
			"loss", row.Loss,
			"accuracy", row.Accuracy,
			"val_loss", row.ValLoss,
			"val_accuracy", row.ValAccuracy,
			"duration", row.Duration)

		improved, stop := stopper.Update(epoch, valRes.Loss)
		if improved {
			_, history.BestEpoch = stopper.Best()
			if cfg.RestoreBestWeights {
				best = m.Snapshot()
			}
		}
		if stop {
			history.EarlyStopped = true
			logging.Info("early stopping", logging.Training, "epoch", epoch, "best_epoch", history.BestEpoch, "patience", patience)
			break
		}
	}

	if cfg.RestoreBestWeights && best != nil && history.BestEpoch != history.Len() {
		if err := m.Restore(best); err != nil {
			return history, fmt.Errorf("trainer: restore best weights: %w", err)
		}
		history.Restored = true
		logging.Info("restored best weights", logging.Training, "best_epoch", history.BestEpoch)
	}
	return history, nil
}
