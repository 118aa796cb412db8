// Package labelgen closes the self-supervision loop: it runs the
// current waypoint model over unlabeled driving windows and emits the
// predictions as pseudo-label preload data that reloads exactly like
// recorded data.
package labelgen

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/datasets"
	"github.com/selfdrive-lab/carladata/geom"
)

// Model is the narrow inference surface the generator needs. The
// network internals live elsewhere; here it is only an encoder plus a
// waypoint decoder. Predict returns PredLen ego-relative waypoints.
// Inference may block for device-bound durations; the context carries
// cancellation for the loop around it, not for a single call.
type Model interface {
	Encode(fronts []*tensors.Tensor) (*tensors.Tensor, error)
	Predict(encoding *tensors.Tensor, target geom.Point) ([]geom.Point, error)
}

// Source is the dataset surface the generator consumes: typically a
// CarlaDataset over unlabeled (or label-ignored) routes.
type Source interface {
	Len() int
	Get(index int) (*datasets.Sample, error)
}

// Generator runs a model over a source and collects pseudo-labels.
type Generator struct {
	Model  Model
	Cfg    config.GlobalConfig
	Logger golog.Logger
}

// Generate builds model inputs for every window in src, runs inference,
// and assembles the resulting pseudo preload. Synthetic windows carry
// zero-filled pose placeholders; the waypoint field is seeded with the
// present-step (0,0) followed by the model's predictions, giving
// pred+1 entries per window. Field order and types match the pseudo
// preload schema exactly, so a later run reloads these windows through
// the same path as recorded ones.
func (g *Generator) Generate(ctx context.Context, src Source) (*datasets.PseudoPreload, error) {
	if g.Model == nil {
		return nil, errors.New("label generator has no model")
	}

	out := datasets.NewPseudoPreload(g.Cfg.SeqLen, g.Cfg.PredLen)
	n := src.Len()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "label generation canceled")
		}

		s, err := src.Get(i)
		if err != nil {
			return nil, errors.Wrapf(err, "window %d", i)
		}

		fronts := make([]*tensors.Tensor, len(s.Fronts))
		for j, im := range s.Fronts {
			fronts[j] = im.ToTensor()
		}
		encoding, err := g.Model.Encode(fronts)
		if err != nil {
			return nil, errors.Wrapf(err, "encode window %d", i)
		}
		predicted, err := g.Model.Predict(encoding, s.TargetPoint)
		if err != nil {
			return nil, errors.Wrapf(err, "predict window %d", i)
		}
		if len(predicted) != g.Cfg.PredLen {
			return nil, errors.Errorf("model returned %d waypoints for window %d, want %d", len(predicted), i, g.Cfg.PredLen)
		}

		// Predictions are already ego-relative; no frame transform on
		// the way out.
		waypoints := make([]geom.Point, 0, g.Cfg.PredLen+1)
		waypoints = append(waypoints, geom.Point{})
		waypoints = append(waypoints, predicted...)

		front := s.FrontPaths[:1]
		if err := out.Append(front, s.RawCommand.X, s.RawCommand.Y, waypoints); err != nil {
			return nil, errors.Wrapf(err, "window %d", i)
		}
	}

	if g.Logger != nil {
		g.Logger.Infow("generated pseudo labels", "windows", out.Len())
	}
	return out, nil
}

// GenerateToFile runs Generate and persists the result at the standard
// pseudo preload path inside dir.
func (g *Generator) GenerateToFile(ctx context.Context, src Source, dir string) (string, error) {
	pre, err := g.Generate(ctx, src)
	if err != nil {
		return "", err
	}
	path := datasets.PseudoPreloadPath(dir, g.Cfg.SeqLen, g.Cfg.PredLen)
	if err := pre.Save(path); err != nil {
		return "", err
	}
	if g.Logger != nil {
		g.Logger.Infow("saved pseudo-label preload", "path", path, "windows", pre.Len())
	}
	return path, nil
}
