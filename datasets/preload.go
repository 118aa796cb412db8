package datasets

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/geom"
)

// preloadVersion is incremented whenever the on-disk preload format
// changes. Loading rejects any other version.
const preloadVersion = 1

// PreloadPath is the fixed cache filename for a route root. The name is
// keyed by the window lengths, so different (seq, pred) settings cache
// independently inside the same root.
func PreloadPath(root string, seqLen, predLen int) string {
	return filepath.Join(root, fmt.Sprintf("preload_%d_%d.gob", seqLen, predLen))
}

// PseudoPreloadPath is the fixed filename for an emitted pseudo-label
// preload inside a pseudo-label data directory.
func PseudoPreloadPath(dir string, seqLen, predLen int) string {
	return filepath.Join(dir, fmt.Sprintf("pseudo_preload_%d_%d.gob", seqLen, predLen))
}

// Preload is the serialized index of every window under one route root.
// All per-window fields are parallel sequences: index i in every field
// refers to the same window. The struct is the explicit, versioned
// schema for the cache file; field order is fixed by the type, not by
// map insertion order.
type Preload struct {
	Version   int
	SeqLen    int
	PredLen   int
	CreatedAt int64

	// Per past/current frame, per window: image paths by camera view.
	Front [][]string
	Left  [][]string
	Right [][]string
	Rear  [][]string

	// Per window: seq+pred pose entries.
	X     [][]float64
	Y     [][]float64
	Theta [][]float64

	// Per window: final-frame goal point and control labels.
	XCommand []float64
	YCommand []float64
	Steer    []float64
	Throttle []float64
	Brake    []float64
	Command  []int
	Velocity []float64
}

// NewPreload returns an empty preload for the given window lengths.
func NewPreload(seqLen, predLen int) *Preload {
	return &Preload{
		Version:   preloadVersion,
		SeqLen:    seqLen,
		PredLen:   predLen,
		CreatedAt: time.Now().Unix(),
	}
}

// Len returns the number of windows.
func (p *Preload) Len() int {
	return len(p.Front)
}

// append adds one indexed window to every field.
func (p *Preload) append(w *window) {
	p.Front = append(p.Front, w.front)
	p.Left = append(p.Left, w.left)
	p.Right = append(p.Right, w.right)
	p.Rear = append(p.Rear, w.rear)
	p.X = append(p.X, w.x)
	p.Y = append(p.Y, w.y)
	p.Theta = append(p.Theta, w.theta)
	p.XCommand = append(p.XCommand, w.xCommand)
	p.YCommand = append(p.YCommand, w.yCommand)
	p.Steer = append(p.Steer, w.steer)
	p.Throttle = append(p.Throttle, w.throttle)
	p.Brake = append(p.Brake, w.brake)
	p.Command = append(p.Command, w.command)
	p.Velocity = append(p.Velocity, w.velocity)
}

// concat appends all of other's windows after p's. Roots are cached
// independently and concatenated at load time; the order is the
// caller's root iteration order.
func (p *Preload) concat(other *Preload) {
	p.Front = append(p.Front, other.Front...)
	p.Left = append(p.Left, other.Left...)
	p.Right = append(p.Right, other.Right...)
	p.Rear = append(p.Rear, other.Rear...)
	p.X = append(p.X, other.X...)
	p.Y = append(p.Y, other.Y...)
	p.Theta = append(p.Theta, other.Theta...)
	p.XCommand = append(p.XCommand, other.XCommand...)
	p.YCommand = append(p.YCommand, other.YCommand...)
	p.Steer = append(p.Steer, other.Steer...)
	p.Throttle = append(p.Throttle, other.Throttle...)
	p.Brake = append(p.Brake, other.Brake...)
	p.Command = append(p.Command, other.Command...)
	p.Velocity = append(p.Velocity, other.Velocity...)
}

// Validate checks that all parallel sequences have the window count. A
// mismatch means a corrupt or hand-edited cache and is a data-integrity
// error.
func (p *Preload) Validate() error {
	n := len(p.Front)
	lengths := map[string]int{
		"left":      len(p.Left),
		"right":     len(p.Right),
		"rear":      len(p.Rear),
		"x":         len(p.X),
		"y":         len(p.Y),
		"theta":     len(p.Theta),
		"x_command": len(p.XCommand),
		"y_command": len(p.YCommand),
		"steer":     len(p.Steer),
		"throttle":  len(p.Throttle),
		"brake":     len(p.Brake),
		"command":   len(p.Command),
		"velocity":  len(p.Velocity),
	}
	for field, l := range lengths {
		if l != n {
			return errors.Errorf("preload field length mismatch: front=%d %s=%d", n, field, l)
		}
	}
	for i := range p.X {
		want := p.SeqLen + p.PredLen
		if len(p.X[i]) != want || len(p.Y[i]) != want || len(p.Theta[i]) != want {
			return errors.Errorf("preload window %d has %d/%d/%d pose entries, want %d",
				i, len(p.X[i]), len(p.Y[i]), len(p.Theta[i]), want)
		}
	}
	return nil
}

// Save writes the preload to path atomically: encode into a temp file
// in the same directory, sync, then rename over the target. A racing
// writer's later rename wins, which is acceptable because both sides
// produced the same deterministic content.
func (p *Preload) Save(path string) error {
	return saveGob(path, p)
}

// LoadPreload reads and validates a preload cache file.
func LoadPreload(path string) (*Preload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open preload %s", path)
	}
	defer f.Close()

	var p Preload
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, errors.Wrapf(err, "decode preload %s", path)
	}
	if p.Version != preloadVersion {
		return nil, errors.Errorf("preload %s version mismatch: cache=%d expected=%d", path, p.Version, preloadVersion)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "preload %s", path)
	}
	return &p, nil
}

// PseudoPreload is the reduced schema emitted by the label generator:
// front frames, zero-filled placeholder poses, the global goal point,
// and model-predicted waypoints. Index alignment works exactly as in
// Preload so a reloaded pseudo preload is indistinguishable from
// recorded data to its consumers.
type PseudoPreload struct {
	Version   int
	SeqLen    int
	PredLen   int
	CreatedAt int64

	Front     [][]string
	X         [][]float64
	Y         [][]float64
	Theta     [][]float64
	XCommand  []float64
	YCommand  []float64
	Waypoints [][]geom.Point
}

// NewPseudoPreload returns an empty pseudo-label preload.
func NewPseudoPreload(seqLen, predLen int) *PseudoPreload {
	return &PseudoPreload{
		Version:   preloadVersion,
		SeqLen:    seqLen,
		PredLen:   predLen,
		CreatedAt: time.Now().Unix(),
	}
}

// Len returns the number of synthetic windows.
func (p *PseudoPreload) Len() int {
	return len(p.Front)
}

// Append adds one synthetic window. The waypoint sequence must already
// be (0,0)-seeded, so its length is pred+1.
func (p *PseudoPreload) Append(front []string, xCommand, yCommand float64, waypoints []geom.Point) error {
	if len(waypoints) != p.PredLen+1 {
		return errors.Errorf("pseudo window needs %d waypoints, got %d", p.PredLen+1, len(waypoints))
	}
	p.Front = append(p.Front, front)
	p.X = append(p.X, make([]float64, p.PredLen+1))
	p.Y = append(p.Y, make([]float64, p.PredLen+1))
	p.Theta = append(p.Theta, make([]float64, p.PredLen+1))
	p.XCommand = append(p.XCommand, xCommand)
	p.YCommand = append(p.YCommand, yCommand)
	p.Waypoints = append(p.Waypoints, waypoints)
	return nil
}

// Validate checks parallel-sequence alignment.
func (p *PseudoPreload) Validate() error {
	n := len(p.Front)
	lengths := map[string]int{
		"x":         len(p.X),
		"y":         len(p.Y),
		"theta":     len(p.Theta),
		"x_command": len(p.XCommand),
		"y_command": len(p.YCommand),
		"waypoints": len(p.Waypoints),
	}
	for field, l := range lengths {
		if l != n {
			return errors.Errorf("pseudo preload field length mismatch: front=%d %s=%d", n, field, l)
		}
	}
	for i := range p.Waypoints {
		if len(p.Waypoints[i]) != p.PredLen+1 {
			return errors.Errorf("pseudo window %d has %d waypoints, want %d", i, len(p.Waypoints[i]), p.PredLen+1)
		}
	}
	return nil
}

// Save writes the pseudo preload atomically, like Preload.Save.
func (p *PseudoPreload) Save(path string) error {
	return saveGob(path, p)
}

// LoadPseudoPreload reads and validates a pseudo-label preload.
func LoadPseudoPreload(path string) (*PseudoPreload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open pseudo preload %s", path)
	}
	defer f.Close()

	var p PseudoPreload
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, errors.Wrapf(err, "decode pseudo preload %s", path)
	}
	if p.Version != preloadVersion {
		return nil, errors.Errorf("pseudo preload %s version mismatch: cache=%d expected=%d", path, p.Version, preloadVersion)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "pseudo preload %s", path)
	}
	return &p, nil
}

// saveGob gob-encodes v into a temp file next to path and renames it
// into place.
func saveGob(path string, v any) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp preload file")
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		return errors.Wrap(err, "encode preload")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp preload file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp preload file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp preload into place")
	}
	return nil
}
