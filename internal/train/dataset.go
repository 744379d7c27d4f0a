package train

import (
	"fmt"

	"github.com/born-ml/convnet/internal/tensor"
)

// Dataset is an indexed collection of (input, target) batches.
//
// Every input must have the network's input shape and every target the
// network's output shape.
type Dataset interface {
	// Len returns the number of examples.
	Len() int

	// Example returns example i.
	Example(i int) (input, target *tensor.Tensor, err error)
}

// SliceDataset is an in-memory Dataset.
type SliceDataset struct {
	Inputs  []*tensor.Tensor
	Targets []*tensor.Tensor
}

// Len returns the number of examples.
func (d *SliceDataset) Len() int {
	return len(d.Inputs)
}

// Example returns example i.
func (d *SliceDataset) Example(i int) (*tensor.Tensor, *tensor.Tensor, error) {
	if i < 0 || i >= len(d.Inputs) || i >= len(d.Targets) {
		return nil, nil, fmt.Errorf("dataset: %w: example %d of %d", tensor.ErrInvalidArgument, i, len(d.Inputs))
	}
	return d.Inputs[i], d.Targets[i], nil
}

// FromSlices uploads host data to ops. inputs[i] fills one tensor of
// inputShape and targets[i] one tensor of targetShape.
//
// Example:
//
//	ds, err := train.FromSlices(ops,
//	    tensor.NewShape(4, 1, 1, 2), tensor.NewShape(4, 1, 1, 2),
//	    inputs, targets)
func FromSlices(ops tensor.Ops, inputShape, targetShape tensor.Shape, inputs, targets [][]float32) (*SliceDataset, error) {
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("dataset: %w: %d inputs, %d targets", tensor.ErrInvalidArgument, len(inputs), len(targets))
	}
	ds := &SliceDataset{
		Inputs:  make([]*tensor.Tensor, len(inputs)),
		Targets: make([]*tensor.Tensor, len(targets)),
	}
	for i := range inputs {
		x, err := tensor.FromSlice(ops, inputShape, inputs[i])
		if err != nil {
			return nil, fmt.Errorf("dataset: input %d: %w", i, err)
		}
		y, err := tensor.FromSlice(ops, targetShape, targets[i])
		if err != nil {
			return nil, fmt.Errorf("dataset: target %d: %w", i, err)
		}
		ds.Inputs[i], ds.Targets[i] = x, y
	}
	return ds, nil
}
