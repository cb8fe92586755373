package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoQualifyingThreshold is returned when no threshold reaches the
	// requested precision.
	ErrNoQualifyingThreshold = errors.New("metrics: no threshold reaches the requested precision")
	// ErrSingleClass is returned when a curve is requested for labels that do
	// not contain both classes.
	ErrSingleClass = errors.New("metrics: labels contain a single class")
)

// PRCurve holds precision and recall at each distinct score. Thresholds are
// ascending; Precision and Recall have one extra trailing point (1, 0).
type PRCurve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// ROCCurve holds false and true positive rates for descending thresholds,
// starting at (0, 0) with an infinite threshold.
type ROCCurve struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
}

// counts walks the scores in descending order and returns, for each distinct
// score, the cumulative true and false positives predicted at that cut.
func counts(labels []int, scores []float64) (tps, fps, thresholds []float64, err error) {
	if len(labels) != len(scores) {
		return nil, nil, nil, fmt.Errorf("metrics: %d labels but %d scores", len(labels), len(scores))
	}
	if len(labels) == 0 {
		return nil, nil, nil, errors.New("metrics: no samples")
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var tp, fp float64
	for i, idx := range order {
		switch labels[idx] {
		case 1:
			tp++
		case 0:
			fp++
		default:
			return nil, nil, nil, fmt.Errorf("metrics: label %d is not binary", labels[idx])
		}
		if i == len(order)-1 || scores[order[i+1]] != scores[idx] {
			tps = append(tps, tp)
			fps = append(fps, fp)
			thresholds = append(thresholds, scores[idx])
		}
	}
	if tp == 0 || fp == 0 {
		return nil, nil, nil, ErrSingleClass
	}
	return tps, fps, thresholds, nil
}

// PrecisionRecallCurve computes the precision-recall pairs for label 1 at every
// distinct score.
func PrecisionRecallCurve(labels []int, scores []float64) (PRCurve, error) {
	tps, fps, thr, err := counts(labels, scores)
	if err != nil {
		return PRCurve{}, err
	}
	positives := tps[len(tps)-1]
	n := len(thr)
	curve := PRCurve{
		Precision:  make([]float64, n+1),
		Recall:     make([]float64, n+1),
		Thresholds: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		j := n - 1 - i
		curve.Precision[i] = tps[j] / (tps[j] + fps[j])
		curve.Recall[i] = tps[j] / positives
		curve.Thresholds[i] = thr[j]
	}
	curve.Precision[n] = 1
	curve.Recall[n] = 0
	return curve, nil
}

// SelectThreshold returns the smallest threshold whose precision is at least
// minPrecision. The trailing (1, 0) point has no threshold and never counts.
func SelectThreshold(curve PRCurve, minPrecision float64) (float64, error) {
	for i, t := range curve.Thresholds {
		if curve.Precision[i] >= minPrecision {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w (min precision %.2f)", ErrNoQualifyingThreshold, minPrecision)
}

// ROC computes the receiver operating characteristic for label 1.
func ROC(labels []int, scores []float64) (ROCCurve, error) {
	tps, fps, thr, err := counts(labels, scores)
	if err != nil {
		return ROCCurve{}, err
	}
	positives, negatives := tps[len(tps)-1], fps[len(fps)-1]
	curve := ROCCurve{
		FPR:        []float64{0},
		TPR:        []float64{0},
		Thresholds: []float64{math.Inf(1)},
	}
	for i := range thr {
		curve.FPR = append(curve.FPR, fps[i]/negatives)
		curve.TPR = append(curve.TPR, tps[i]/positives)
		curve.Thresholds = append(curve.Thresholds, thr[i])
	}
	return curve, nil
}

// AUC integrates y over x with the trapezoidal rule. x must be monotonic.
func AUC(x, y []float64) float64 {
	area := 0.0
	for i := 1; i < len(x) && i < len(y); i++ {
		area += (x[i] - x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return math.Abs(area)
}

// Binarize maps each score to 1 when it is at least threshold, else 0.
func Binarize(scores []float64, threshold float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		if s >= threshold {
			out[i] = 1
		}
	}
	return out
}
