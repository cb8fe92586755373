package explain

import (
	"fmt"

	"pneumonia-classifier/internal/imaging"
	"pneumonia-classifier/internal/logging"
	"pneumonia-classifier/internal/model"
)

// Options controls one explanation.
type Options struct {
	// Layer is the target backbone layer; empty selects the last one.
	Layer string
	// Class is 0, 1 or model.RawOutput.
	Class    int
	Alpha    float64
	Colormap string
}

// Result describes a written overlay.
type Result struct {
	Heatmap     Heatmap
	Probability float64
	Predicted   string
	Output      string
}

// ExplainFile loads imagePath, computes its Grad-CAM heatmap with c and writes
// the overlay to output (PNG or JPEG by extension).
func ExplainFile(c *model.Classifier, imagePath, output string, opts Options) (Result, error) {
	cm, err := NewColormap(opts.Colormap)
	if err != nil {
		return Result{}, err
	}
	src, err := imaging.Decode(imagePath)
	if err != nil {
		return Result{}, err
	}
	x := imaging.FromImage(imaging.Resize(src, c.ImageSize, c.ImageSize))
	x.Scale(1.0 / 255)
	if err := c.Input.Apply(x); err != nil {
		return Result{}, fmt.Errorf("standardize %s: %w", imagePath, err)
	}

	heat, err := GradCAM(c, x, opts.Layer, opts.Class)
	if err != nil {
		return Result{}, err
	}
	if heat.Degenerate {
		logging.Warn("heatmap is zero everywhere", logging.Explain, "image", imagePath, "layer", heat.Layer, "class", heat.Class)
	}

	overlay, err := Overlay(src, heat, cm, opts.Alpha)
	if err != nil {
		return Result{}, err
	}
	if err := imaging.Save(output, overlay); err != nil {
		return Result{}, err
	}

	predicted := c.Labels[0]
	if heat.Probability >= c.Threshold {
		predicted = c.Labels[1]
	}
	logging.Info("wrote grad-cam overlay", logging.Explain,
		"image", imagePath, "output", output, "layer", heat.Layer,
		"probability", heat.Probability, "predicted", predicted)
	return Result{Heatmap: heat, Probability: heat.Probability, Predicted: predicted, Output: output}, nil
}
