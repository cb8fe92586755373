package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"pneumonia-classifier/internal/augment"
	"pneumonia-classifier/internal/dataset"
	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/model"
)

// scripted is a model whose validation loss follows a fixed sequence.
type scripted struct {
	valLosses []float64
	epoch     int
	steps     int
	images    int
	restored  model.Snapshot
}

func (s *scripted) TrainStep(_ context.Context, batch model.Batch) (model.StepResult, error) {
	if len(batch.Inputs) != len(batch.Labels) {
		return model.StepResult{}, fmt.Errorf("batch has %d inputs and %d labels", len(batch.Inputs), len(batch.Labels))
	}
	s.steps++
	s.images += len(batch.Inputs)
	return model.StepResult{Loss: 1, Accuracy: 0.5}, nil
}

func (s *scripted) EvaluateFeatures(_ *mat.Dense, _ []int) model.StepResult {
	loss := s.valLosses[s.epoch]
	s.epoch++
	return model.StepResult{Loss: loss, Accuracy: 1 - loss}
}

func (s *scripted) PredictFeatures(x *mat.Dense) *mat.Dense { return x }

func (s *scripted) Snapshot() model.Snapshot {
	return model.Snapshot{"epoch": {float64(s.epoch)}}
}

func (s *scripted) Restore(snap model.Snapshot) error {
	s.restored = snap
	return nil
}

func samples(n int) []dataset.Sample {
	rng := rand.New(rand.NewSource(1))
	out := make([]dataset.Sample, n)
	for i := range out {
		img := imaging.NewTensor(4, 4, 3)
		for j := range img.Data {
			img.Data[j] = rng.Float64()
		}
		out[i] = dataset.Sample{Image: img, Label: i % 2}
	}
	return out
}

func validation(n int) Validation {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % 2
	}
	return Validation{Features: mat.NewDense(n, 1, nil), Labels: labels}
}

func TestEarlyStopping(t *testing.T) {
	e := NewEarlyStopping(3)
	losses := []float64{1, 0.9, 0.95, 0.96, 0.97}
	var stops []bool
	for i, l := range losses {
		_, stop := e.Update(i+1, l)
		stops = append(stops, stop)
	}
	require.Equal(t, []bool{false, false, false, false, true}, stops)
	best, epoch := e.Best()
	require.Equal(t, 0.9, best)
	require.Equal(t, 2, epoch)

	improved, _ := NewEarlyStopping(1).Update(1, 5)
	require.True(t, improved)
}

func TestFitStopsEarlyAndRestoresBest(t *testing.T) {
	m := &scripted{valLosses: []float64{0.8, 0.5, 0.6, 0.7, 0.9, 0.95}}
	h, err := Fit(context.Background(), m, augment.New(augment.Config{}), samples(10), validation(4), FitConfig{
		BatchSize:          4,
		Epochs:             10,
		Patience:           3,
		RestoreBestWeights: true,
		Seed:               1,
	})
	require.NoError(t, err)
	require.Equal(t, 5, h.Len())
	require.True(t, h.EarlyStopped)
	require.Equal(t, 2, h.BestEpoch)
	require.True(t, h.Restored)
	// snapshot was taken right after epoch 2 was evaluated
	require.Equal(t, model.Snapshot{"epoch": {2}}, m.restored)
	require.Equal(t, 5*3, m.steps)
	require.Equal(t, 5*10, m.images, "every training image reaches TrainStep once per epoch")
	require.Equal(t, 0.5, h.Epochs[1].ValLoss)
	require.Equal(t, 1.0, h.Epochs[0].Loss)
}

func TestFitWithoutRestore(t *testing.T) {
	m := &scripted{valLosses: []float64{0.8, 0.5, 0.6}}
	h, err := Fit(context.Background(), m, augment.New(augment.Config{}), samples(3), validation(2), FitConfig{
		BatchSize: 2,
		Epochs:    3,
		Patience:  5,
	})
	require.NoError(t, err)
	require.Equal(t, 3, h.Len())
	require.False(t, h.EarlyStopped)
	require.False(t, h.Restored)
	require.Nil(t, m.restored)
}

func TestFitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &scripted{valLosses: []float64{1}}
	h, err := Fit(ctx, m, augment.New(augment.Config{}), samples(4), validation(2), FitConfig{BatchSize: 2, Epochs: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.Len())
	require.Zero(t, m.steps)
}

func TestFitValidatesInput(t *testing.T) {
	gen := augment.New(augment.Config{})
	_, err := Fit(context.Background(), &scripted{}, gen, nil, validation(2), FitConfig{BatchSize: 2, Epochs: 1})
	require.Error(t, err)
	_, err = Fit(context.Background(), &scripted{}, gen, samples(2), Validation{}, FitConfig{BatchSize: 2, Epochs: 1})
	require.Error(t, err)
	_, err = Fit(context.Background(), &scripted{}, gen, samples(2), validation(2), FitConfig{Epochs: 1})
	require.Error(t, err)
}

func TestFitRequiresFittedGenerator(t *testing.T) {
	gen := augment.New(augment.Config{FeaturewiseCenter: true})
	_, err := Fit(context.Background(), &scripted{valLosses: []float64{1}}, gen, samples(2), validation(2), FitConfig{BatchSize: 2, Epochs: 1})
	require.ErrorIs(t, err, augment.ErrNotFitted)
}
