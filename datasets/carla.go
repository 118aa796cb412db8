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

// CarlaDataset is the full dataset variant over one or more route
// roots. Construction loads (or builds) each root's preload cache and
// concatenates them in root order, which is stable across runs so a
// fixed shuffle seed reproduces the same epoch order.
//
// Get is stateless per call: all mutable state it touches is local, so
// an external batch loader may issue concurrent Get calls on distinct
// indices.
type CarlaDataset struct {
	cfg config.GlobalConfig
	pre *Preload

	// Epoch iteration state for Yield. Not used by Get.
	order  []int
	cursor int
}

// NewCarlaDataset opens the dataset across the given route roots.
func NewCarlaDataset(roots []string, cfg config.GlobalConfig, logger golog.Logger) (*CarlaDataset, error) {
	combined := NewPreload(cfg.SeqLen, cfg.PredLen)
	for _, root := range roots {
		pre, err := LoadOrBuildPreload(root, cfg, logger)
		if err != nil {
			return nil, err
		}
		combined.concat(pre)
	}
	if err := combined.Validate(); err != nil {
		return nil, err
	}

	d := &CarlaDataset{cfg: cfg, pre: combined}
	d.resetOrder()
	return d, nil
}

func (d *CarlaDataset) resetOrder() {
	d.order = make([]int, d.pre.Len())
	for i := range d.order {
		d.order[i] = i
	}
	d.cursor = 0
}

// Len returns the number of windows across all roots.
func (d *CarlaDataset) Len() int {
	return d.pre.Len()
}

// Shuffle reorders the epoch iteration deterministically for the given
// seed. It affects Yield only; Get indices are unchanged.
func (d *CarlaDataset) Shuffle(seed int64) {
	d.resetOrder()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// Get returns the sample for one window: preprocessed camera views,
// the ego-frame waypoint sequence over all seq+pred steps, the
// ego-frame goal point, and the recorded control labels.
func (d *CarlaDataset) Get(index int) (*Sample, error) {
	if index < 0 || index >= d.pre.Len() {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, len %d", index, d.pre.Len())
	}

	seqLen, predLen := d.cfg.SeqLen, d.cfg.PredLen
	s := &Sample{
		FrontPaths: d.pre.Front[index],
		RawCommand: geom.Point{X: d.pre.XCommand[index], Y: d.pre.YCommand[index]},
	}

	for i := 0; i < seqLen; i++ {
		front, err := imageproc.LoadAndPreprocess(d.pre.Front[index][i], d.cfg.Scale, d.cfg.InputResolution)
		if err != nil {
			return nil, err
		}
		s.Fronts = append(s.Fronts, front)

		if !d.cfg.IgnoreSides {
			left, err := imageproc.LoadAndPreprocess(d.pre.Left[index][i], d.cfg.Scale, d.cfg.InputResolution)
			if err != nil {
				return nil, err
			}
			right, err := imageproc.LoadAndPreprocess(d.pre.Right[index][i], d.cfg.Scale, d.cfg.InputResolution)
			if err != nil {
				return nil, err
			}
			s.Lefts = append(s.Lefts, left)
			s.Rights = append(s.Rights, right)
		}
		if !d.cfg.IgnoreRear {
			rear, err := imageproc.LoadAndPreprocess(d.pre.Rear[index][i], d.cfg.Scale, d.cfg.InputResolution)
			if err != nil {
				return nil, err
			}
			s.Rears = append(s.Rears, rear)
		}
	}

	// Headings come straight from the cache, which may hold recorded
	// NaNs for past/current steps. Copy before substituting: Get must
	// not write into shared preload state.
	x := d.pre.X[index]
	y := d.pre.Y[index]
	theta := make([]float64, len(d.pre.Theta[index]))
	for i, t := range d.pre.Theta[index] {
		theta[i] = geom.SafeHeading(t)
	}

	// Ego frame: anchored at the final past/current pose.
	egoX := x[seqLen-1]
	egoY := y[seqLen-1]
	egoTheta := theta[seqLen-1]

	// Each waypoint is the origin of that step's frame re-expressed in
	// the ego frame. Headings use pi/2 - theta: x is rightward and y
	// downward in this data, unlike the LBC convention of pi/2 + theta.
	s.Waypoints = make([]geom.Point, 0, seqLen+predLen)
	for i := 0; i < seqLen+predLen; i++ {
		wp, err := geom.TransformPoint(geom.Point{},
			math.Pi/2-theta[i], -x[i], -y[i],
			math.Pi/2-egoTheta, -egoX, -egoY)
		if err != nil {
			return nil, errors.Wrapf(err, "window %d step %d", index, i)
		}
		s.Waypoints = append(s.Waypoints, wp)
	}

	// The goal point has no heading of its own; it is rotated into the
	// ego frame directly, with pi/2 + theta per the recorded-data
	// convention for command points.
	s.TargetPoint = geom.RotateIntoHeading(geom.Point{
		X: s.RawCommand.X - egoX,
		Y: s.RawCommand.Y - egoY,
	}, math.Pi/2+egoTheta)

	s.Controls = &Controls{
		Steer:    d.pre.Steer[index],
		Throttle: d.pre.Throttle[index],
		Brake:    d.pre.Brake[index],
		Command:  d.pre.Command[index],
		Velocity: d.pre.Velocity[index],
	}
	return s, nil
}

// Yield produces the next batch for the gomlx training loop: one front
// image tensor per past/current step plus the goal-point tensor as
// inputs, and the future-waypoint tensor as labels. Returns io.EOF when
// the epoch is exhausted.
func (d *CarlaDataset) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
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

	inputs, err := batchInputs(samples, d.cfg.SeqLen)
	if err != nil {
		return nil, nil, nil, err
	}

	// Supervision targets are the future waypoints only.
	labels := make([][][]float32, len(samples))
	for i, s := range samples {
		future := s.Waypoints[d.cfg.SeqLen:]
		labels[i] = waypointRows(future)
	}
	return nil, inputs, []*tensors.Tensor{tensors.FromAnyValue(labels)}, nil
}

// Restart begins a new epoch with the current order.
func (d *CarlaDataset) Restart() error {
	d.cursor = 0
	return nil
}

// nextBatch slices up to batchSize indices from order, advancing the
// cursor.
func nextBatch(order []int, cursor *int, batchSize int) []int {
	if *cursor >= len(order) {
		return nil
	}
	end := *cursor + batchSize
	if end > len(order) {
		end = len(order)
	}
	out := order[*cursor:end]
	*cursor = end
	return out
}

// batchInputs stacks per-step front views into [batch][C][H][W] tensors
// and the goal points into a [batch][2] tensor.
func batchInputs(samples []*Sample, seqLen int) ([]*tensors.Tensor, error) {
	inputs := make([]*tensors.Tensor, 0, seqLen+1)
	for step := 0; step < seqLen; step++ {
		batch := make([][][][]float32, len(samples))
		for i, s := range samples {
			if step >= len(s.Fronts) {
				return nil, errors.Errorf("sample %d has %d front views, want %d", i, len(s.Fronts), seqLen)
			}
			batch[i] = chwPlanes(s.Fronts[step])
		}
		inputs = append(inputs, tensors.FromAnyValue(batch))
	}

	targets := make([][]float32, len(samples))
	for i, s := range samples {
		targets[i] = []float32{float32(s.TargetPoint.X), float32(s.TargetPoint.Y)}
	}
	inputs = append(inputs, tensors.FromAnyValue(targets))
	return inputs, nil
}

// chwPlanes views a preprocessed image as nested [C][H][W] slices.
func chwPlanes(im *imageproc.Image) [][][]float32 {
	planes := make([][][]float32, imageproc.Channels)
	idx := 0
	for c := 0; c < imageproc.Channels; c++ {
		planes[c] = make([][]float32, im.Height)
		for y := 0; y < im.Height; y++ {
			planes[c][y] = im.Pix[idx : idx+im.Width]
			idx += im.Width
		}
	}
	return planes
}

// waypointRows flattens points into [n][2] float32 rows.
func waypointRows(points []geom.Point) [][]float32 {
	rows := make([][]float32, len(points))
	for i, p := range points {
		rows[i] = []float32{float32(p.X), float32(p.Y)}
	}
	return rows
}
