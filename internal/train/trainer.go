// Package train runs the forward, loss, backward and correction loop of a
// network.
//
// A Trainer accumulates gradients over BatchSize steps and then corrects
// every parameter concurrently, one goroutine per parameter. Losses are read
// back after each step, so Step also synchronizes the backend.
package train

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/convnet/internal/nn"
	"github.com/born-ml/convnet/internal/optim"
	"github.com/born-ml/convnet/internal/parallel"
	"github.com/born-ml/convnet/internal/tensor"
)

// Config configures a Trainer.
type Config struct {
	Epochs    int             // default: 1
	BatchSize int             // steps per correction, default: 1
	Loss      tensor.LossKind // default: CrossEntropy
	Shuffle   bool            // visit examples in a new order every epoch
	Seed      uint64          // shuffle seed
	Logger    *slog.Logger    // default: discard
}

// Trainer drives one network with one optimizer.
type Trainer struct {
	net    *nn.Network
	opt    optim.Optimizer
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand

	params []*nn.Parameter
	states []optim.State

	loss   *tensor.Tensor // per-row loss, (B, 1, 1, 1)
	lossDx *tensor.Tensor

	pending   int // steps since the last correction
	iteration int // corrections so far
}

// New allocates one optimizer state per network parameter.
func New(net *nn.Network, opt optim.Optimizer, cfg Config) (*Trainer, error) {
	if net == nil || opt == nil {
		return nil, fmt.Errorf("trainer: %w: nil network or optimizer", tensor.ErrInvalidArgument)
	}
	if len(net.Layers()) == 0 {
		return nil, fmt.Errorf("trainer: %w: network has no layers", tensor.ErrModelNotInitialized)
	}
	if !cfg.Loss.Valid() {
		return nil, fmt.Errorf("trainer: %w: %v", tensor.ErrInvalidArgument, cfg.Loss)
	}
	if cfg.Epochs < 0 || cfg.BatchSize < 0 {
		return nil, fmt.Errorf("trainer: %w: %d epochs, batch size %d", tensor.ErrInvalidArgument, cfg.Epochs, cfg.BatchSize)
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &Trainer{
		net:    net,
		opt:    opt,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		params: net.Parameters(),
		loss:   tensor.New(net.Ops()),
		lossDx: tensor.New(net.Ops()),
	}
	t.states = make([]optim.State, len(t.params))
	for i, p := range t.params {
		s, err := opt.NewState(p.Weights())
		if err != nil {
			return nil, fmt.Errorf("trainer: %s: %w", p.Name(), err)
		}
		t.states[i] = s
	}
	return t, nil
}

// Iteration returns the number of corrections applied so far.
func (t *Trainer) Iteration() int {
	return t.iteration
}

// Step runs forward, loss and backward for one batch and returns the mean
// row loss. Every BatchSize-th step also corrects the parameters.
func (t *Trainer) Step(input, target *tensor.Tensor) (float64, error) {
	ops := t.net.Ops()
	out, err := t.net.Forward(input)
	if err != nil {
		return 0, err
	}
	if err := ops.Loss(t.cfg.Loss, out, target, t.loss); err != nil {
		return 0, fmt.Errorf("step: %w", err)
	}
	if err := ops.LossDx(t.cfg.Loss, out, target, t.lossDx); err != nil {
		return 0, fmt.Errorf("step: %w", err)
	}
	if err := t.net.Backward(t.lossDx); err != nil {
		return 0, err
	}
	if err := ops.Synchronize(); err != nil {
		return 0, fmt.Errorf("step: %w", err)
	}
	loss, err := meanRow(t.loss)
	if err != nil {
		return 0, fmt.Errorf("step: %w", err)
	}

	t.pending++
	if t.pending >= t.cfg.BatchSize {
		if err := t.Flush(); err != nil {
			return 0, err
		}
	}
	return loss, nil
}

// Flush corrects the parameters from the gradients accumulated since the
// last correction. It does nothing when no step is pending.
func (t *Trainer) Flush() error {
	if t.pending == 0 {
		return nil
	}
	t.pending = 0
	t.iteration++
	iteration := t.iteration

	tasks := make([]func() error, len(t.params))
	for i, p := range t.params {
		state := t.states[i]
		tasks[i] = func() error {
			if err := t.opt.Correct(p.Weights(), p.Gradient(), state, true, iteration); err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil
		}
	}
	if err := parallel.Do(tasks...); err != nil {
		return fmt.Errorf("correct: %w", err)
	}
	return nil
}

// Train runs Epochs passes over ds and returns the mean step loss of each
// epoch. Pending gradients are flushed at the end of every epoch.
func (t *Trainer) Train(ds Dataset) ([]float64, error) {
	n := ds.Len()
	if n == 0 {
		return nil, fmt.Errorf("train: %w: empty dataset", tensor.ErrInvalidArgument)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	losses := make([]float64, 0, t.cfg.Epochs)
	stepLosses := make([]float64, n)
	for epoch := range t.cfg.Epochs {
		if t.cfg.Shuffle {
			t.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for k, i := range order {
			x, y, err := ds.Example(i)
			if err != nil {
				return losses, err
			}
			if stepLosses[k], err = t.Step(x, y); err != nil {
				return losses, fmt.Errorf("epoch %d, example %d: %w", epoch+1, i, err)
			}
		}
		if err := t.Flush(); err != nil {
			return losses, err
		}
		mean := stat.Mean(stepLosses, nil)
		losses = append(losses, mean)
		t.logger.Info("epoch complete",
			"epoch", epoch+1,
			"epochs", t.cfg.Epochs,
			"loss", mean,
			"optimizer", t.opt.Name(),
			"corrections", t.iteration)
	}
	return losses, nil
}

// Evaluate runs ds forward only and returns the mean loss and the fraction
// of rows whose output argmax matches the target argmax.
func (t *Trainer) Evaluate(ds Dataset) (loss, accuracy float64, err error) {
	n := ds.Len()
	if n == 0 {
		return 0, 0, fmt.Errorf("evaluate: %w: empty dataset", tensor.ErrInvalidArgument)
	}
	ops := t.net.Ops()
	var correct, rows int
	losses := make([]float64, n)
	for i := range n {
		x, y, err := ds.Example(i)
		if err != nil {
			return 0, 0, err
		}
		out, err := t.net.Forward(x)
		if err != nil {
			return 0, 0, err
		}
		if err := ops.Loss(t.cfg.Loss, out, y, t.loss); err != nil {
			return 0, 0, fmt.Errorf("evaluate: %w", err)
		}
		if losses[i], err = meanRow(t.loss); err != nil {
			return 0, 0, fmt.Errorf("evaluate: %w", err)
		}
		c, r, err := matches(out, y)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluate: %w", err)
		}
		correct += c
		rows += r
	}
	return stat.Mean(losses, nil), float64(correct) / float64(rows), nil
}

// meanRow reads a (B, 1, 1, 1) loss back and averages it.
func meanRow(loss *tensor.Tensor) (float64, error) {
	data, err := loss.Data()
	if err != nil {
		return 0, err
	}
	return stat.Mean(widen(data), nil), nil
}

// matches counts the batch rows of out and target with the same argmax.
func matches(out, target *tensor.Tensor) (correct, rows int, err error) {
	o, err := out.Data()
	if err != nil {
		return 0, 0, err
	}
	y, err := target.Data()
	if err != nil {
		return 0, 0, err
	}
	s := out.Shape()
	width := s.PerBatch()
	for b := range s.Batch {
		row := widen(o[b*width : (b+1)*width])
		want := widen(y[b*width : (b+1)*width])
		if floats.MaxIdx(row) == floats.MaxIdx(want) {
			correct++
		}
	}
	return correct, s.Batch, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
