package model

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// LayerSummary is one row of Summary.
type LayerSummary struct {
	Name      string
	Kind      string
	Output    string
	Params    int
	Trainable bool
}

// Summary lists every layer with its output shape and parameter count.
func (c *Classifier) Summary() []LayerSummary {
	var rows []LayerSummary
	size := c.ImageSize
	rows = append(rows, LayerSummary{Name: "input", Kind: "Input", Output: shape(size, size, 3)})
	for _, l := range c.Backbone.Layers {
		size = OutputSize(size)
		rows = append(rows, LayerSummary{Name: l.Name, Kind: "Conv2D", Output: shape(size, size, l.Out), Params: l.Params()})
	}
	width := c.Backbone.OutputChannels()
	rows = append(rows, LayerSummary{Name: "global_average_pooling", Kind: "GlobalAveragePooling2D", Output: shape(width)})
	for _, l := range c.Head.layers {
		width = l.outputWidth(width)
		row := LayerSummary{Name: l.name(), Kind: kindOf(l), Output: shape(width)}
		for _, p := range l.params() {
			row.Params += p.Size()
			if p.Trainable {
				row.Trainable = true
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// ParamCounts splits the parameters into trainable and frozen. Backbone weights
// and batch-norm running statistics are never trained.
func (c *Classifier) ParamCounts() (trainable, frozen int) {
	frozen = c.Backbone.Params()
	for _, p := range c.Head.Params() {
		if p.Trainable {
			trainable += p.Size()
		} else {
			frozen += p.Size()
		}
	}
	return trainable, frozen
}

// FormatSummary renders the summary as an aligned table.
func (c *Classifier) FormatSummary() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Layer\tType\tOutput\tParams")
	for _, r := range c.Summary() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Name, r.Kind, r.Output, r.Params)
	}
	w.Flush()
	trainable, frozen := c.ParamCounts()
	fmt.Fprintf(&b, "Total params: %d\nTrainable params: %d\nNon-trainable params: %d\n", trainable+frozen, trainable, frozen)
	return b.String()
}

func kindOf(l layer) string {
	switch v := l.(type) {
	case *dense:
		return "Dense"
	case *batchNorm:
		return "BatchNormalization"
	case *dropout:
		return fmt.Sprintf("Dropout(%.2f)", v.rate)
	default:
		return "Layer"
	}
}

func shape(dims ...int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "(None, " + strings.Join(parts, ", ") + ")"
}
