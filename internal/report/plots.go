// Package report renders training and evaluation plots and the run summary.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"

	"pneumonia-classifier/internal/metrics"
)

// PlotType names an output plot; it is also the file stem.
type PlotType string

const (
	AccuracyCurves  PlotType = "accuracy"
	LossCurves      PlotType = "loss"
	ConfusionMatrix PlotType = "confusion_matrix"
	ROCCurve        PlotType = "roc_curve"
	PrecisionRecall PlotType = "precision_recall"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// Path is where a plot of type pt is written inside dir.
func Path(dir string, pt PlotType) string {
	return filepath.Join(dir, string(pt)+".png")
}

// HistoryPlots writes the train-vs-validation accuracy and loss curves and
// returns their paths.
func HistoryPlots(h *metrics.History, dir string) (map[PlotType]string, error) {
	if h.Len() == 0 {
		return nil, fmt.Errorf("report: history is empty")
	}
	out := make(map[PlotType]string, 2)
	for _, pt := range []PlotType{AccuracyCurves, LossCurves} {
		train, err := h.Series(string(pt))
		if err != nil {
			return nil, err
		}
		val, err := h.Series("val_" + string(pt))
		if err != nil {
			return nil, err
		}
		p := plot.New()
		p.Title.Text = "Model " + string(pt)
		p.X.Label.Text = "epoch"
		p.Y.Label.Text = string(pt)
		p.Legend.Top = pt == AccuracyCurves
		if err := plotutil.AddLinePoints(p, "train", series(train), "val", series(val)); err != nil {
			return nil, fmt.Errorf("report: %s curves: %w", pt, err)
		}
		path := Path(dir, pt)
		if err := save(p, path); err != nil {
			return nil, err
		}
		out[pt] = path
	}
	return out, nil
}

// ConfusionPlot writes the matrix as a heatmap annotated with the counts.
// Columns are predicted labels, rows true labels.
func ConfusionPlot(cm metrics.ConfusionMatrix, path string) error {
	grid := confusionGrid{cm.Dense()}
	heat := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	if heat.Min == heat.Max {
		heat.Max = heat.Min + 1
	}

	var labels plotter.XYLabels
	var ticks []plot.Tick
	for i, row := range cm.Counts {
		ticks = append(ticks, plot.Tick{Value: float64(i), Label: cm.Labels[i]})
		for j, v := range row {
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(j), Y: float64(i)})
			labels.Labels = append(labels.Labels, fmt.Sprint(v))
		}
	}
	counts, err := plotter.NewLabels(labels)
	if err != nil {
		return fmt.Errorf("report: confusion labels: %w", err)
	}
	for i := range counts.TextStyle {
		counts.TextStyle[i].Color = color.Black
		counts.TextStyle[i].XAlign = text.XCenter
		counts.TextStyle[i].YAlign = text.YCenter
	}

	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "true"
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	p.Add(heat, counts)
	return save(p, path)
}

// ROCPlot writes the ROC curve with the chance diagonal.
func ROCPlot(roc metrics.ROCCurve, auc float64, path string) error {
	p := plot.New()
	p.Title.Text = "ROC curve"
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	p.Legend.Top = false
	curve := xys(roc.FPR, roc.TPR)
	chance := plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if err := plotutil.AddLines(p, fmt.Sprintf("ROC (AUC = %.3f)", auc), curve, "chance", chance); err != nil {
		return fmt.Errorf("report: roc: %w", err)
	}
	return save(p, path)
}

// PRPlot writes the precision-recall curve and marks the selected threshold.
func PRPlot(pr metrics.PRCurve, threshold float64, path string) error {
	p := plot.New()
	p.Title.Text = "Precision-recall curve"
	p.X.Label.Text = "recall"
	p.Y.Label.Text = "precision"
	p.Legend.Top = false
	if err := plotutil.AddLines(p, "precision/recall", xys(pr.Recall, pr.Precision)); err != nil {
		return fmt.Errorf("report: precision-recall: %w", err)
	}
	for i, t := range pr.Thresholds {
		if t != threshold {
			continue
		}
		marker, err := plotter.NewScatter(plotter.XYs{{X: pr.Recall[i], Y: pr.Precision[i]}})
		if err != nil {
			return fmt.Errorf("report: threshold marker: %w", err)
		}
		marker.GlyphStyle.Color = plotutil.Color(1)
		marker.GlyphStyle.Radius = vg.Points(4)
		p.Add(marker)
		p.Legend.Add(fmt.Sprintf("threshold %.3f", threshold), marker)
		break
	}
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create plot dir: %w", err)
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}

func series(ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(ys))
	for i, y := range ys {
		pts[i] = plotter.XY{X: float64(i + 1), Y: y}
	}
	return pts
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}

// confusionGrid adapts a counts matrix to plotter.GridXYZ: column c is the
// predicted label, row r the true label.
type confusionGrid struct {
	m mat.Matrix
}

func (g confusionGrid) Dims() (c, r int) {
	rows, cols := g.m.Dims()
	return cols, rows
}
func (g confusionGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }
