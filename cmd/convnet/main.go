// Package main provides the convnet CLI: train a small convolutional
// classifier on synthetic images, save it as a .cnvn checkpoint and inspect
// saved checkpoints.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/born-ml/convnet/internal/backend/cpu"
	"github.com/born-ml/convnet/internal/backend/device"
	"github.com/born-ml/convnet/internal/backend/device/emulator"
	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/optim"
	"github.com/born-ml/convnet/internal/serialization"
	"github.com/born-ml/convnet/internal/tensor"
	"github.com/born-ml/convnet/internal/train"
)

const version = "v0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(out, "convnet %s\n", version)
		return nil
	case "train":
		return trainCommand(args[1:], out)
	case "inspect":
		return inspectCommand(args[1:], out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintf(out, "convnet %s\n\n", version)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  train      Train a classifier on synthetic images")
	fmt.Fprintln(out, "  inspect    Print the layers of a .cnvn checkpoint")
	fmt.Fprintln(out, "  version    Show version")
}

type trainOptions struct {
	backend   string
	optimizer string
	loss      string
	epochs    int
	batch     int
	samples   int
	lr        float64
	seed      uint64
	output    string
	export    string
	verbose   bool
}

func trainCommand(args []string, out io.Writer) error {
	var o trainOptions
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.backend, "backend", "cpu", "Backend: cpu, emulator or webgpu")
	fs.StringVar(&o.optimizer, "optimizer", "adam", "Optimizer: sgd, adagrad, adadelta, adam or rprop")
	fs.StringVar(&o.loss, "loss", "cross_entropy", "Loss: cross_entropy or mse")
	fs.IntVar(&o.epochs, "epochs", 10, "Number of training epochs")
	fs.IntVar(&o.batch, "batch", 8, "Images per batch")
	fs.IntVar(&o.samples, "samples", 32, "Number of synthetic batches")
	fs.Float64Var(&o.lr, "lr", 0.01, "Learning rate (ignored by rprop)")
	fs.Uint64Var(&o.seed, "seed", 1, "Random seed for data, weights and shuffling")
	fs.StringVar(&o.output, "o", "", "Write the trained network to this .cnvn file")
	fs.StringVar(&o.export, "safetensors", "", "Also export the weights to this SafeTensors file")
	fs.BoolVar(&o.verbose, "v", false, "Log every epoch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	ops, closeOps, err := openBackend(o.backend)
	if err != nil {
		return err
	}
	defer closeOps()

	opt, err := newOptimizer(o.optimizer, float32(o.lr))
	if err != nil {
		return err
	}
	loss, err := tensor.ParseLoss(o.loss)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed+1))
	input := tensor.NewShape(o.batch, 1, imageSize, imageSize)
	net, err := buildClassifier(ops, input, rng)
	if err != nil {
		return err
	}
	ds, err := syntheticImages(ops, input, o.samples, rng)
	if err != nil {
		return err
	}

	tr, err := train.New(net, opt, train.Config{
		Epochs:  o.epochs,
		Loss:    loss,
		Shuffle: true,
		Seed:    o.seed,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Backend:   %s\n", ops.Name())
	fmt.Fprintf(out, "Optimizer: %s, loss %s\n", opt.Name(), loss)
	fmt.Fprintf(out, "Network:   %d layers, %d parameters\n", len(net.Layers()), countParameters(net))

	losses, err := tr.Train(ds)
	if err != nil {
		return err
	}
	meanLoss, accuracy, err := tr.Evaluate(ds)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loss:      %.4f -> %.4f\n", losses[0], losses[len(losses)-1])
	fmt.Fprintf(out, "Accuracy:  %.2f%% (loss %.4f)\n", accuracy*100, meanLoss)

	if o.output != "" {
		err := serialization.SaveNetwork(o.output, net, serialization.WriteOptions{
			Metadata: map[string]string{"backend": ops.Name()},
			Checkpoint: &serialization.CheckpointMeta{
				Epoch:     o.epochs,
				Iteration: tr.Iteration(),
				Loss:      losses[len(losses)-1],
				Optimizer: opt.Name(),
			},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved:     %s\n", o.output)
	}
	if o.export != "" {
		if err := serialization.ExportSafeTensors(o.export, net, nil); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported:  %s\n", o.export)
	}
	return nil
}

func inspectCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(out)
	skip := fs.Bool("skip-checksum", false, "Do not verify the data checksum")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("inspect takes one .cnvn file")
	}
	ckpt, err := serialization.Load(fs.Arg(0), serialization.ReaderOptions{SkipChecksumValidation: *skip})
	if err != nil {
		return err
	}

	h := ckpt.Header
	fmt.Fprintf(out, "Created: %s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Input:   %v\n", ckpt.InputShape)
	if c := h.Checkpoint; c != nil {
		fmt.Fprintf(out, "Trained: %d epochs, %d corrections with %s, loss %.4f\n", c.Epoch, c.Iteration, c.Optimizer, c.Loss)
	}
	for i, l := range ckpt.Layers {
		params := len(l.Weights) + len(l.Bias)
		fmt.Fprintf(out, "  %2d  %-10s %v -> %v", i, l.Kind, l.InputShape, l.OutputShape)
		if params > 0 {
			fmt.Fprintf(out, "  (%d parameters)", params)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// openBackend returns the named backend and a function releasing it.
func openBackend(name string) (tensor.Ops, func(), error) {
	switch name {
	case "cpu":
		return cpu.New(), func() {}, nil
	case "emulator":
		b := device.New(emulator.New())
		return b, func() { _ = b.Close() }, nil
	case "webgpu":
		l, err := openWebGPU()
		if err != nil {
			return nil, nil, err
		}
		b := device.New(l)
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}

func newOptimizer(name string, lr float32) (optim.Optimizer, error) {
	switch name {
	case "sgd":
		return optim.NewGradientDescent(optim.GradientDescentConfig{LearningRate: lr}), nil
	case "adagrad":
		return optim.NewAdaGrad(optim.AdaGradConfig{LearningRate: lr}), nil
	case "adadelta":
		return optim.NewAdaDelta(optim.AdaDeltaConfig{LearningRate: lr}), nil
	case "adam":
		return optim.NewAdam(optim.AdamConfig{LearningRate: lr}), nil
	case "rprop":
		return optim.NewRProp(optim.RPropConfig{}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

func countParameters(net *nn.Network) int {
	n := 0
	for _, p := range net.Parameters() {
		n += p.Weights().Size()
	}
	return n
}
