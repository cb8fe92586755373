package metrics

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts predictions with rows indexed by the true label and
// columns by the predicted label.
type ConfusionMatrix struct {
	Labels []string
	Counts [][]int
}

func NewConfusionMatrix(labels []string, truth, predicted []int) (ConfusionMatrix, error) {
	if len(truth) != len(predicted) {
		return ConfusionMatrix{}, fmt.Errorf("metrics: %d true labels but %d predictions", len(truth), len(predicted))
	}
	cm := ConfusionMatrix{Labels: labels, Counts: make([][]int, len(labels))}
	for i := range cm.Counts {
		cm.Counts[i] = make([]int, len(labels))
	}
	for i, y := range truth {
		p := predicted[i]
		if y < 0 || y >= len(labels) || p < 0 || p >= len(labels) {
			return ConfusionMatrix{}, fmt.Errorf("metrics: sample %d has label %d / prediction %d outside [0,%d)", i, y, p, len(labels))
		}
		cm.Counts[y][p]++
	}
	return cm, nil
}

func (cm ConfusionMatrix) Total() int {
	n := 0
	for _, row := range cm.Counts {
		for _, v := range row {
			n += v
		}
	}
	return n
}

func (cm ConfusionMatrix) Accuracy() float64 {
	total := cm.Total()
	if total == 0 {
		return 0
	}
	diag := 0
	for i := range cm.Counts {
		diag += cm.Counts[i][i]
	}
	return float64(diag) / float64(total)
}

// Precision of class c: correct predictions of c over all predictions of c.
func (cm ConfusionMatrix) Precision(c int) float64 {
	predicted := 0
	for _, row := range cm.Counts {
		predicted += row[c]
	}
	if predicted == 0 {
		return 0
	}
	return float64(cm.Counts[c][c]) / float64(predicted)
}

// Recall of class c: correct predictions of c over all samples of c.
func (cm ConfusionMatrix) Recall(c int) float64 {
	actual := 0
	for _, v := range cm.Counts[c] {
		actual += v
	}
	if actual == 0 {
		return 0
	}
	return float64(cm.Counts[c][c]) / float64(actual)
}

func (cm ConfusionMatrix) F1(c int) float64 {
	p, r := cm.Precision(c), cm.Recall(c)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Dense returns the counts as a matrix for plotting.
func (cm ConfusionMatrix) Dense() *mat.Dense {
	n := len(cm.Counts)
	m := mat.NewDense(n, n, nil)
	for i, row := range cm.Counts {
		for j, v := range row {
			m.Set(i, j, float64(v))
		}
	}
	return m
}

// Report renders the matrix and per-class precision, recall and F1.
func (cm ConfusionMatrix) Report() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(w, "true\\pred\t")
	for _, l := range cm.Labels {
		fmt.Fprintf(w, "%s\t", l)
	}
	fmt.Fprintln(w)
	for i, row := range cm.Counts {
		fmt.Fprintf(w, "%s\t", cm.Labels[i])
		for _, v := range row {
			fmt.Fprintf(w, "%d\t", v)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "\tprecision\trecall\tf1\tsupport\t")
	for i, l := range cm.Labels {
		support := 0
		for _, v := range cm.Counts[i] {
			support += v
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", l, cm.Precision(i), cm.Recall(i), cm.F1(i), support)
	}
	fmt.Fprintf(w, "accuracy\t\t\t%.2f\t%d\t\n", cm.Accuracy(), cm.Total())
	w.Flush()
	return b.String()
}
