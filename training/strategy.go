// Package training selects and wires the training data flow. The
// optimization loop itself is an external collaborator behind the
// Engine interface; this package decides which datasets feed it and
// when pseudo-labels are collected, with the mode selected by an
// explicit strategy value instead of script dispatch.
package training

import (
	"context"
	"io"

	"github.com/edaniels/golog"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/datasets"
	"github.com/selfdrive-lab/carladata/labelgen"
)

// Dataset is the batch surface an Engine consumes: the gomlx
// train.Dataset shape plus epoch reshuffling.
type Dataset interface {
	Len() int
	Shuffle(seed int64)
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Restart() error
}

// Engine is the external training-loop collaborator. Its bookkeeping
// (checkpoints, logging, optimizer state) is not this package's
// concern.
type Engine interface {
	Train(ctx context.Context, ds Dataset) error
	Validate(ctx context.Context, ds Dataset) (loss float64, err error)
}

// Strategy is one way of running the pipeline end to end.
type Strategy interface {
	Name() string
	Run(ctx context.Context) error
}

// ForConfig returns the strategy selected by the configuration:
// self-supervised when pseudo-label data is to be consumed, supervised
// otherwise.
func ForConfig(cfg config.GlobalConfig, selfSupervised bool, engine Engine, model labelgen.Model, logger golog.Logger) Strategy {
	if selfSupervised {
		return &SelfSupervised{Cfg: cfg, Engine: engine, Logger: logger}
	}
	return &Supervised{Cfg: cfg, Engine: engine, Model: model, Logger: logger}
}

// Supervised trains on recorded routes, validates, and then runs the
// label generator over the self-supervision routes so the next round
// has pseudo-label data to consume.
type Supervised struct {
	Cfg    config.GlobalConfig
	Engine Engine
	Model  labelgen.Model
	Logger golog.Logger

	// Epochs to train and how often to validate. Zero values default
	// to one epoch and validation after it.
	Epochs        int
	ValidateEvery int

	// Seed for per-epoch shuffling; epoch index is added so every
	// epoch sees a different, reproducible order.
	Seed int64
}

// Name implements Strategy.
func (s *Supervised) Name() string { return "supervised" }

// Run implements Strategy.
func (s *Supervised) Run(ctx context.Context) error {
	trainDS, err := datasets.NewCarlaDataset(s.Cfg.TrainData, s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open training data")
	}
	valDS, err := datasets.NewCarlaDataset(s.Cfg.ValData, s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open validation data")
	}

	if err := runEpochs(ctx, s.Engine, trainDS, valDS, s.Epochs, s.ValidateEvery, s.Seed, s.Logger); err != nil {
		return err
	}

	// Collect labels for the next round.
	ssdDS, err := datasets.NewCarlaDataset(s.Cfg.SSDData, s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open self-supervision data")
	}
	gen := &labelgen.Generator{Model: s.Model, Cfg: s.Cfg, Logger: s.Logger}
	if _, err := gen.GenerateToFile(ctx, ssdDS, s.Cfg.SSDDir); err != nil {
		return errors.Wrap(err, "collect pseudo labels")
	}
	return nil
}

// SelfSupervised trains on previously emitted pseudo-label data chained
// with the recorded training routes, then validates on recorded data.
type SelfSupervised struct {
	Cfg    config.GlobalConfig
	Engine Engine
	Logger golog.Logger

	Epochs        int
	ValidateEvery int
	Seed          int64
}

// Name implements Strategy.
func (s *SelfSupervised) Name() string { return "self-supervised" }

// Run implements Strategy.
func (s *SelfSupervised) Run(ctx context.Context) error {
	pseudoDS, err := datasets.NewPseudoDataset(
		[]string{datasets.PseudoPreloadPath(s.Cfg.SSDDir, s.Cfg.SeqLen, s.Cfg.PredLen)},
		s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open pseudo-label data")
	}
	trainDS, err := datasets.NewCarlaDataset(s.Cfg.TrainData, s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open training data")
	}
	valDS, err := datasets.NewCarlaDataset(s.Cfg.ValData, s.Cfg, s.Logger)
	if err != nil {
		return errors.Wrap(err, "open validation data")
	}

	combined := Chain(pseudoDS, trainDS)
	return runEpochs(ctx, s.Engine, combined, valDS, s.Epochs, s.ValidateEvery, s.Seed, s.Logger)
}

// runEpochs drives the engine over the training dataset with periodic
// validation.
func runEpochs(ctx context.Context, engine Engine, trainDS, valDS Dataset, epochs, validateEvery int, seed int64, logger golog.Logger) error {
	if epochs <= 0 {
		epochs = 1
	}
	if validateEvery <= 0 {
		validateEvery = epochs
	}

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "training canceled")
		}

		trainDS.Shuffle(seed + int64(epoch))
		if err := trainDS.Restart(); err != nil {
			return err
		}
		if err := engine.Train(ctx, trainDS); err != nil {
			return errors.Wrapf(err, "epoch %d", epoch)
		}

		if (epoch+1)%validateEvery == 0 {
			if err := valDS.Restart(); err != nil {
				return err
			}
			loss, err := engine.Validate(ctx, valDS)
			if err != nil {
				return errors.Wrapf(err, "validate epoch %d", epoch)
			}
			if logger != nil {
				logger.Infow("validation", "epoch", epoch, "waypoint_loss", loss)
			}
		}
	}
	return nil
}

// chained yields from each member dataset in turn until all are
// exhausted.
type chained struct {
	members []Dataset
	current int
}

// Chain combines datasets into one epoch: batches come from the first
// member until it reports io.EOF, then the next, and so on.
func Chain(members ...Dataset) Dataset {
	return &chained{members: members}
}

func (c *chained) Len() int {
	total := 0
	for _, m := range c.members {
		total += m.Len()
	}
	return total
}

func (c *chained) Shuffle(seed int64) {
	for i, m := range c.members {
		m.Shuffle(seed + int64(i))
	}
}

func (c *chained) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	for c.current < len(c.members) {
		spec, inputs, labels, err := c.members[c.current].Yield()
		if err == io.EOF {
			c.current++
			continue
		}
		return spec, inputs, labels, err
	}
	return nil, nil, nil, io.EOF
}

func (c *chained) Restart() error {
	c.current = 0
	for _, m := range c.members {
		if err := m.Restart(); err != nil {
			return err
		}
	}
	return nil
}
