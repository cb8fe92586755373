package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"pneumonia-classifier/internal/imaging"
)

// RawOutput targets the output neuron itself rather than a class.
const RawOutput = -1

// Config describes how to build a Classifier.
type Config struct {
	Labels    []string
	ImageSize int
	// Backbone, when set, is used as-is (pretrained weights). Otherwise one is
	// built from BackboneChannels and Seed.
	Backbone         *Backbone
	BackboneChannels []int
	Hidden           []int
	InputDropout     float64
	OutputDropout    float64
	LearningRate     float64
	Seed             int64
	Workers          int
}

// Classifier is the frozen backbone followed by the trainable head. The output
// is the probability of label index 1.
type Classifier struct {
	Labels    []string
	ImageSize int
	Threshold float64
	// Input is applied to every image before the forward pass by callers
	// that start from raw pixels.
	Input     Standardization
	Backbone  *Backbone
	Head      *Head

	opt     *Adam
	rng     *rand.Rand
	workers int
}

var _ Model = (*Classifier)(nil)

func New(cfg Config) (*Classifier, error) {
	if len(cfg.Labels) != 2 {
		return nil, fmt.Errorf("model: binary classifier needs 2 labels (got %d)", len(cfg.Labels))
	}
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("model: image size must be > 0 (got %d)", cfg.ImageSize)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("model: learning rate must be > 0 (got %g)", cfg.LearningRate)
	}
	backbone := cfg.Backbone
	if backbone == nil {
		var err error
		backbone, err = NewBackbone(cfg.BackboneChannels, cfg.Seed)
		if err != nil {
			return nil, err
		}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	headCfg := DefaultHeadConfig(backbone.OutputChannels())
	if len(cfg.Hidden) > 0 {
		headCfg.Hidden = cfg.Hidden
	}
	headCfg.InputDropout = cfg.InputDropout
	headCfg.OutputDropout = cfg.OutputDropout
	head, err := NewHead(headCfg, rng)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Classifier{
		Labels:    append([]string(nil), cfg.Labels...),
		ImageSize: cfg.ImageSize,
		Threshold: 0.5,
		Backbone:  backbone,
		Head:      head,
		opt:       NewAdam(cfg.LearningRate),
		rng:       rng,
		workers:   workers,
	}, nil
}

// Features runs the frozen backbone and global average pooling over inputs,
// returning one row per image.
func (c *Classifier) Features(ctx context.Context, inputs []imaging.Tensor) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, errors.New("model: no inputs")
	}
	cols := c.Backbone.OutputChannels()
	out := mat.NewDense(len(inputs), cols, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			x := inputs[i]
			if x.H != c.ImageSize || x.W != c.ImageSize || x.C != 3 {
				return fmt.Errorf("model: input %d is %s, want %d×%d×3", i, x, c.ImageSize, c.ImageSize)
			}
			out.SetRow(i, GlobalAveragePool(c.Backbone.Forward(x)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TrainOnFeatures runs one optimizer step on the head and reports the batch
// loss and accuracy measured in training mode.
func (c *Classifier) TrainOnFeatures(x *mat.Dense, labels []int) StepResult {
	logits := c.Head.Forward(x, true)
	probs := sigmoidColumn(logits)

	n := float64(len(labels))
	grad := mat.NewDense(len(labels), 1, nil)
	for i, p := range probs {
		grad.Set(i, 0, (p-float64(labels[i]))/n)
	}
	c.Head.Backward(grad)
	c.opt.Step(c.Head.Params())

	return StepResult{Loss: BinaryCrossEntropy(probs, labels), Accuracy: Accuracy(probs, labels)}
}

// TrainStep extracts features for batch and trains on them.
func (c *Classifier) TrainStep(ctx context.Context, batch Batch) (StepResult, error) {
	x, err := c.Features(ctx, batch.Inputs)
	if err != nil {
		return StepResult{}, err
	}
	return c.TrainOnFeatures(x, batch.Labels), nil
}

// EvaluateFeatures measures loss and accuracy in inference mode.
func (c *Classifier) EvaluateFeatures(x *mat.Dense, labels []int) StepResult {
	probs := sigmoidColumn(c.Head.Forward(x, false))
	return StepResult{Loss: BinaryCrossEntropy(probs, labels), Accuracy: Accuracy(probs, labels)}
}

// PredictFeatures returns an n×1 matrix of probabilities for label index 1.
func (c *Classifier) PredictFeatures(x *mat.Dense) *mat.Dense {
	probs := sigmoidColumn(c.Head.Forward(x, false))
	return mat.NewDense(len(probs), 1, probs)
}

// Predict returns an n×1 matrix of probabilities for label index 1.
func (c *Classifier) Predict(ctx context.Context, inputs []imaging.Tensor) (*mat.Dense, error) {
	x, err := c.Features(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return c.PredictFeatures(x), nil
}

// Snapshot copies the head parameters, running statistics included.
func (c *Classifier) Snapshot() Snapshot { return c.Head.Snapshot() }

// Restore loads a snapshot taken from this classifier.
func (c *Classifier) Restore(s Snapshot) error { return c.Head.Restore(s) }

// OptimizerSteps is the number of updates applied to the head.
func (c *Classifier) OptimizerSteps() int { return c.opt.Steps() }

// ClassGradient is what Grad-CAM needs from one image: the activations of the
// target layer and the gradient of the class score with respect to them.
type ClassGradient struct {
	Layer       string
	Activations imaging.Tensor
	Gradients   imaging.Tensor
	// Probability is the model output for label index 1.
	Probability float64
	// Score is the differentiated quantity: p, or 1-p for class 0.
	Score float64
	Class int
}

// Gradient differentiates the score of class (0, 1 or RawOutput) with respect
// to the output of layer ("" selects the last conv layer). The head runs in
// inference mode.
func (c *Classifier) Gradient(x imaging.Tensor, layer string, class int) (ClassGradient, error) {
	if class < RawOutput || class > 1 {
		return ClassGradient{}, fmt.Errorf("model: class must be -1, 0 or 1 (got %d)", class)
	}
	if x.H != c.ImageSize || x.W != c.ImageSize || x.C != 3 {
		return ClassGradient{}, fmt.Errorf("model: input is %s, want %d×%d×3", x, c.ImageSize, c.ImageSize)
	}
	idx, err := c.Backbone.LayerIndex(layer)
	if err != nil {
		return ClassGradient{}, err
	}

	acts := c.Backbone.Activations(x)
	final := acts[len(acts)-1]
	features := mat.NewDense(1, final.C, GlobalAveragePool(final))
	p := Sigmoid(c.Head.Forward(features, false).At(0, 0))

	score, sign := p, 1.0
	if class == 0 {
		score, sign = 1-p, -1.0
	}
	dFeatures := c.Head.Backward(mat.NewDense(1, 1, []float64{sign * p * (1 - p)}))

	// GAP spreads each channel gradient evenly over the spatial positions.
	gradFinal := imaging.NewTensor(final.H, final.W, final.C)
	area := float64(final.H * final.W)
	for i := range gradFinal.Data {
		gradFinal.Data[i] = dFeatures.At(0, i%final.C) / area
	}

	return ClassGradient{
		Layer:       c.Backbone.Layers[idx].Name,
		Activations: acts[idx],
		Gradients:   c.Backbone.GradientAt(acts, idx, gradFinal),
		Probability: p,
		Score:       score,
		Class:       class,
	}, nil
}

func sigmoidColumn(logits *mat.Dense) []float64 {
	r, _ := logits.Dims()
	probs := make([]float64, r)
	for i := range probs {
		probs[i] = Sigmoid(logits.At(i, 0))
	}
	return probs
}
