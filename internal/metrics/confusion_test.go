package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfusionMatrix(t *testing.T) {
	labels := []string{"PNEUMONIA", "NORMAL"}
	truth := []int{0, 0, 0, 1, 1}
	pred := []int{0, 1, 0, 1, 0}
	cm, err := NewConfusionMatrix(labels, truth, pred)
	require.NoError(t, err)

	require.Equal(t, [][]int{{2, 1}, {1, 1}}, cm.Counts)
	require.Equal(t, 5, cm.Total())
	require.InDelta(t, 0.6, cm.Accuracy(), 1e-12)
	require.InDelta(t, 2.0/3, cm.Precision(0), 1e-12)
	require.InDelta(t, 0.5, cm.Recall(1), 1e-12)
	require.InDelta(t, 0.5, cm.F1(1), 1e-12)
	require.Equal(t, 1.0, cm.Dense().At(0, 1))

	report := cm.Report()
	require.Contains(t, report, "PNEUMONIA")
	require.Contains(t, report, "accuracy")
}

func TestConfusionMatrixErrors(t *testing.T) {
	_, err := NewConfusionMatrix([]string{"a", "b"}, []int{0}, []int{0, 1})
	require.Error(t, err)
	_, err = NewConfusionMatrix([]string{"a", "b"}, []int{0}, []int{2})
	require.Error(t, err)
}

func TestConfusionMatrixEmptyClass(t *testing.T) {
	cm, err := NewConfusionMatrix([]string{"a", "b"}, []int{0, 0}, []int{0, 0})
	require.NoError(t, err)
	require.Zero(t, cm.Precision(1))
	require.Zero(t, cm.Recall(1))
	require.Zero(t, cm.F1(1))
}

func TestHistory(t *testing.T) {
	var h History
	h.Append(EpochMetrics{Epoch: 1, Loss: 0.9, ValLoss: 0.8, Duration: time.Second})
	h.Append(EpochMetrics{Epoch: 2, Loss: 0.7, ValLoss: 0.6})
	h.BestEpoch = 2

	loss, err := h.Series("loss")
	require.NoError(t, err)
	require.Equal(t, []float64{0.9, 0.7}, loss)
	_, err = h.Series("f1")
	require.Error(t, err)

	best, ok := h.Best()
	require.True(t, ok)
	require.Equal(t, 0.6, best.ValLoss)

	var empty History
	_, ok = empty.Best()
	require.False(t, ok)
}
