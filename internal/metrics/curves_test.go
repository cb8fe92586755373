package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	exampleLabels = []int{0, 0, 1, 1}
	exampleScores = []float64{0.1, 0.4, 0.35, 0.8}
)

func TestPrecisionRecallCurve(t *testing.T) {
	curve, err := PrecisionRecallCurve(exampleLabels, exampleScores)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0.5, 2.0 / 3, 0.5, 1, 1}, curve.Precision, 1e-12)
	require.Equal(t, []float64{1, 1, 0.5, 0.5, 0}, curve.Recall)
	require.Equal(t, []float64{0.1, 0.35, 0.4, 0.8}, curve.Thresholds)
	require.Len(t, curve.Precision, len(curve.Thresholds)+1)
}

func TestPrecisionRecallCurveMergesTies(t *testing.T) {
	curve, err := PrecisionRecallCurve([]int{0, 1, 1}, []float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	require.Equal(t, []float64{0.5}, curve.Thresholds)
	require.InDeltaSlice(t, []float64{2.0 / 3, 1}, curve.Precision, 1e-12)
	require.Equal(t, []float64{1, 0}, curve.Recall)
}

func TestCurveInputErrors(t *testing.T) {
	_, err := PrecisionRecallCurve([]int{1, 1}, []float64{0.2, 0.3})
	require.ErrorIs(t, err, ErrSingleClass)
	_, err = PrecisionRecallCurve([]int{1}, []float64{0.2, 0.3})
	require.Error(t, err)
	_, err = ROC(nil, nil)
	require.Error(t, err)
	_, err = ROC([]int{0, 2}, []float64{0.1, 0.2})
	require.Error(t, err)
}

func TestSelectThreshold(t *testing.T) {
	curve, err := PrecisionRecallCurve(exampleLabels, exampleScores)
	require.NoError(t, err)

	thr, err := SelectThreshold(curve, 0.8)
	require.NoError(t, err)
	require.Equal(t, 0.8, thr)

	thr, err = SelectThreshold(curve, 0.6)
	require.NoError(t, err)
	require.Equal(t, 0.35, thr)
}

func TestSelectThresholdNoneQualifies(t *testing.T) {
	curve, err := PrecisionRecallCurve([]int{1, 0}, []float64{0.2, 0.9})
	require.NoError(t, err)
	_, err = SelectThreshold(curve, 0.8)
	require.ErrorIs(t, err, ErrNoQualifyingThreshold)
}

func TestROCAndAUC(t *testing.T) {
	roc, err := ROC(exampleLabels, exampleScores)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0.5, 0.5, 1}, roc.FPR)
	require.Equal(t, []float64{0, 0.5, 0.5, 1, 1}, roc.TPR)
	require.True(t, math.IsInf(roc.Thresholds[0], 1))
	require.InDelta(t, 0.75, AUC(roc.FPR, roc.TPR), 1e-12)

	perfect, err := ROC([]int{0, 0, 1}, []float64{0.1, 0.2, 0.9})
	require.NoError(t, err)
	require.InDelta(t, 1.0, AUC(perfect.FPR, perfect.TPR), 1e-12)
}

func TestBinarize(t *testing.T) {
	require.Equal(t, []int{0, 1, 1, 0}, Binarize([]float64{0.2, 0.5, 0.9, 0.49}, 0.5))
}
