// Package model holds the frozen convolutional backbone, the trainable
// classification head and the Classifier that combines them.
package model

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"pneumonia-classifier/internal/imaging"
)

// Batch represents a minibatch of preprocessed images and labels.
type Batch struct {
	Inputs []imaging.Tensor
	Labels []int
}

// StepResult is the loss and accuracy measured on one batch.
type StepResult struct {
	Loss     float64
	Accuracy float64
}

// Model defines the training functionality the trainer depends on. Training
// batches arrive as augmented images; validation and prediction run on pooled
// backbone features computed once up front.
type Model interface {
	TrainStep(ctx context.Context, batch Batch) (StepResult, error)
	EvaluateFeatures(x *mat.Dense, labels []int) StepResult
	PredictFeatures(x *mat.Dense) *mat.Dense
	Snapshot() Snapshot
	Restore(Snapshot) error
}
