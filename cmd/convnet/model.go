package main

import (
	"math/rand/v2"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/tensor"
	"github.com/born-ml/convnet/internal/train"
)

const (
	imageSize = 12
	classes   = 3
)

// buildClassifier returns a LeNet-style network:
//
//	Pad(1) -> Conv 6@3x3 -> ReLU -> MaxPool 2x2
//	       -> Conv 8@3x3 -> ReLU -> Flatten -> FC(classes) -> Softmax
func buildClassifier(ops tensor.Ops, input tensor.Shape, rng *rand.Rand) (*nn.Network, error) {
	net, err := nn.NewNetwork(ops, input)
	if err != nil {
		return nil, err
	}
	init := nn.XavierUniform(rng)

	pad, err := nn.NewPad(tensor.Uniform(1))
	if err != nil {
		return nil, err
	}
	conv1, err := nn.NewConvolution(6, 3, 3, 1, true, init)
	if err != nil {
		return nil, err
	}
	relu1, err := nn.NewActivation(tensor.ReLU)
	if err != nil {
		return nil, err
	}
	pool, err := nn.NewMaxPool(2, 2)
	if err != nil {
		return nil, err
	}
	conv2, err := nn.NewConvolution(8, 3, 3, 1, true, init)
	if err != nil {
		return nil, err
	}
	relu2, err := nn.NewActivation(tensor.ReLU)
	if err != nil {
		return nil, err
	}
	fc, err := nn.NewFullyConnected(classes, true, init)
	if err != nil {
		return nil, err
	}

	for _, l := range []nn.Layer{pad, conv1, relu1, pool, conv2, relu2, nn.NewFlatten(), fc, nn.NewSoftmax()} {
		if err := net.AddLayer(l); err != nil {
			return nil, err
		}
	}
	return net, nil
}

// syntheticImages draws batches of noisy images, one class per pattern:
// a horizontal bar, a vertical bar or a diagonal. Targets are one-hot.
func syntheticImages(ops tensor.Ops, input tensor.Shape, batches int, rng *rand.Rand) (*train.SliceDataset, error) {
	target := tensor.NewShape(input.Batch, 1, 1, classes)
	inputs := make([][]float32, batches)
	targets := make([][]float32, batches)
	plane := imageSize * imageSize

	for b := range batches {
		x := make([]float32, input.Size())
		y := make([]float32, target.Size())
		for r := range input.Batch {
			class := rng.IntN(classes)
			img := x[r*plane : (r+1)*plane]
			for i := range img {
				img[i] = float32(rng.Float64() * 0.2)
			}
			at := 2 + rng.IntN(imageSize-4)
			for k := range imageSize {
				switch class {
				case 0:
					img[at*imageSize+k] = 1
				case 1:
					img[k*imageSize+at] = 1
				default:
					img[k*imageSize+k] = 1
				}
			}
			y[r*classes+class] = 1
		}
		inputs[b], targets[b] = x, y
	}
	return train.FromSlices(ops, input, target, inputs, targets)
}
