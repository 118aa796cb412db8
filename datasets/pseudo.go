package datasets

import (
	"io"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/geom"
	"github.com/selfdrive-lab/carladata/imageproc"
)

// PseudoDataset is the reduced dataset variant over label-generator
// output: front camera frames and model-predicted waypoints, no side
// views and no control labels. Synthetic windows carry zero-filled
// poses, so the ego frame degenerates to the origin and the goal point
// reduces to a quarter-turn axis swap of the stored command point. The
// cached waypoints get the same axis swap, matching how the recordings'
// screen convention maps predictions back onto sample coordinates.
type PseudoDataset struct {
	cfg config.GlobalConfig
	pre *PseudoPreload

	order  []int
	cursor int
}

// NewPseudoDataset loads one or more emitted pseudo-label preload
// files and concatenates them in argument order.
func NewPseudoDataset(paths []string, cfg config.GlobalConfig, logger golog.Logger) (*PseudoDataset, error) {
	if len(paths) == 0 {
		return nil, errors.New("no pseudo preload paths given")
	}

	combined := NewPseudoPreload(cfg.SeqLen, cfg.PredLen)
	for _, path := range paths {
		pre, err := LoadPseudoPreload(path)
		if err != nil {
			return nil, err
		}
		if pre.PredLen != cfg.PredLen {
			return nil, errors.Errorf("pseudo preload %s built for pred=%d, want pred=%d", path, pre.PredLen, cfg.PredLen)
		}
		combined.Front = append(combined.Front, pre.Front...)
		combined.X = append(combined.X, pre.X...)
		combined.Y = append(combined.Y, pre.Y...)
		combined.Theta = append(combined.Theta, pre.Theta...)
		combined.XCommand = append(combined.XCommand, pre.XCommand...)
		combined.YCommand = append(combined.YCommand, pre.YCommand...)
		combined.Waypoints = append(combined.Waypoints, pre.Waypoints...)
		logger.Infow("preloading pseudo-label windows", "path", path, "windows", pre.Len())
	}
	if err := combined.Validate(); err != nil {
		return nil, err
	}

	d := &PseudoDataset{cfg: cfg, pre: combined}
	d.resetOrder()
	return d, nil
}

func (d *PseudoDataset) resetOrder() {
	d.order = make([]int, d.pre.Len())
	for i := range d.order {
		d.order[i] = i
	}
	d.cursor = 0
}

// Len returns the number of synthetic windows.
func (d *PseudoDataset) Len() int {
	return d.pre.Len()
}

// Shuffle reorders epoch iteration deterministically for the seed.
func (d *PseudoDataset) Shuffle(seed int64) {
	d.resetOrder()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// axisSwap applies the quarter-turn [[0,1],[-1,0]] mapping between the
// stored prediction convention and sample coordinates.
func axisSwap(p geom.Point) geom.Point {
	return geom.Point{X: p.Y, Y: -p.X}
}

// Get returns the sample for one synthetic window.
func (d *PseudoDataset) Get(index int) (*Sample, error) {
	if index < 0 || index >= d.pre.Len() {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, len %d", index, d.pre.Len())
	}

	s := &Sample{
		FrontPaths: d.pre.Front[index],
		RawCommand: geom.Point{X: d.pre.XCommand[index], Y: d.pre.YCommand[index]},
	}

	for _, path := range d.pre.Front[index] {
		front, err := imageproc.LoadAndPreprocess(path, d.cfg.Scale, d.cfg.InputResolution)
		if err != nil {
			return nil, err
		}
		s.Fronts = append(s.Fronts, front)
	}

	stored := d.pre.Waypoints[index]
	s.Waypoints = make([]geom.Point, 0, d.cfg.PredLen+1)
	for _, wp := range stored[:d.cfg.PredLen+1] {
		s.Waypoints = append(s.Waypoints, axisSwap(wp))
	}

	// Zero ego pose: the general goal transform collapses to a rotation
	// by pi/2, which RotateIntoHeading applies via the transposed
	// rotation matrix.
	s.TargetPoint = geom.RotateIntoHeading(s.RawCommand, math.Pi/2)

	return s, nil
}

// Yield produces the next pseudo-label batch: front image tensors and
// the goal point as inputs, predicted future waypoints as labels.
func (d *PseudoDataset) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	indices := nextBatch(d.order, &d.cursor, d.cfg.BatchSize)
	if len(indices) == 0 {
		return nil, nil, nil, io.EOF
	}

	samples := make([]*Sample, len(indices))
	for i, idx := range indices {
		s, err := d.Get(idx)
		if err != nil {
			return nil, nil, nil, err
		}
		samples[i] = s
	}

	seqLen := len(samples[0].Fronts)
	inputs, err := batchInputs(samples, seqLen)
	if err != nil {
		return nil, nil, nil, err
	}

	// The present-step (0,0) seed is input context, not a target.
	labels := make([][][]float32, len(samples))
	for i, s := range samples {
		labels[i] = waypointRows(s.Waypoints[1:])
	}
	return nil, inputs, []*tensors.Tensor{tensors.FromAnyValue(labels)}, nil
}

// Restart begins a new epoch with the current order.
func (d *PseudoDataset) Restart() error {
	d.cursor = 0
	return nil
}
