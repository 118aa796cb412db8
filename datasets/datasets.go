// Package datasets loads recorded CARLA driving routes and presents
// them as windowed training examples for waypoint prediction.
//
// A route root holds route directories; each route carries per-camera
// PNG frame directories and a measurements directory of per-frame JSON
// records. The expensive directory scan is done once per root and
// serialized as a preload cache (see preload.go); every later run
// deserializes the cache directly.
//
// Two dataset variants exist. CarlaDataset is the full variant: all
// configured camera views, control labels, and ego-frame waypoints
// derived from recorded poses. PseudoDataset is the reduced variant
// that consumes label-generator output: front camera only, waypoints
// taken from model predictions instead of recorded ground truth.
//
// Both implement the gomlx train.Dataset surface (Yield/Restart) the
// way the rest of the training stack expects.
package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/geom"
	"github.com/selfdrive-lab/carladata/imageproc"
)

// ErrIndexOutOfRange reports a Get call outside [0, Len()). It is a
// caller contract violation, not a data error.
var ErrIndexOutOfRange = errors.New("window index out of range")

// Controls are the low-level driving labels recorded at a window's
// final past/current frame.
type Controls struct {
	Steer    float64
	Throttle float64
	Brake    float64
	Command  int
	Velocity float64
}

// Sample is one training example in the ego frame. It is built fresh
// per Get call and never cached.
type Sample struct {
	// Preprocessed camera views for each past/current frame. Disabled
	// views are nil, not empty: consumers branch on presence.
	Fronts []*imageproc.Image
	Lefts  []*imageproc.Image
	Rights []*imageproc.Image
	Rears  []*imageproc.Image

	// FrontPaths are the on-disk frames behind Fronts, kept so the
	// label generator can key emitted pseudo-windows by source frame.
	FrontPaths []string

	// Waypoints is the ego-relative trajectory over the whole window.
	Waypoints []geom.Point

	// TargetPoint is the navigation goal in the ego frame.
	TargetPoint geom.Point

	// RawCommand is the same goal in the recorded global frame, needed
	// when re-emitting windows as pseudo-label data.
	RawCommand geom.Point

	// Controls is nil for the reduced pseudo-label variant.
	Controls *Controls
}

// Dataset is the accessor contract shared by both variants and consumed
// by the label generator and training strategies.
type Dataset interface {
	Len() int
	Get(index int) (*Sample, error)
	Shuffle(seed int64)

	// gomlx train.Dataset surface: Yield returns one batch of input
	// and label tensors, then io.EOF once the epoch is exhausted;
	// Restart begins a new epoch.
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Restart() error
}
