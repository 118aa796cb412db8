package datasets

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/geom"
)

// writePseudoPreload lays out a pseudo-label preload with real front
// frames so Get can load them. Each window stores waypoints marching
// along stored x, which the axis swap turns into negative sample y.
func writePseudoPreload(t *testing.T, predLen, windows int) string {
	t.Helper()
	dir := t.TempDir()

	pre := NewPseudoPreload(1, predLen)
	for w := 0; w < windows; w++ {
		framePath := filepath.Join(dir, frameName(w+1))
		writeFramePNG(t, framePath, w+1)

		wps := make([]geom.Point, 0, predLen+1)
		for i := 0; i <= predLen; i++ {
			wps = append(wps, geom.Point{X: float64(i)})
		}
		if err := pre.Append([]string{framePath}, 3, 4, wps); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	path := PseudoPreloadPath(dir, 1, predLen)
	if err := pre.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return path
}

func TestPseudoDatasetGet(t *testing.T) {
	path := writePseudoPreload(t, 2, 3)

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 2})
	ds, err := NewPseudoDataset([]string{path}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewPseudoDataset failed: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("expected 3 windows, got %d", ds.Len())
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get(0) failed: %v", err)
	}

	// Stored (0,0), (1,0), (2,0) come out axis-swapped.
	want := []geom.Point{{}, {Y: -1}, {Y: -2}}
	if len(s.Waypoints) != len(want) {
		t.Fatalf("expected %d waypoints, got %d", len(want), len(s.Waypoints))
	}
	for i, w := range want {
		if !nearPoint(s.Waypoints[i], w) {
			t.Fatalf("waypoint %d: got (%v, %v) want (%v, %v)",
				i, s.Waypoints[i].X, s.Waypoints[i].Y, w.X, w.Y)
		}
	}

	// Zero ego pose reduces the goal transform to the quarter turn:
	// stored (3,4) becomes (4,-3).
	if !nearPoint(s.TargetPoint, geom.Point{X: 4, Y: -3}) {
		t.Fatalf("target point: got (%v, %v) want (4, -3)", s.TargetPoint.X, s.TargetPoint.Y)
	}

	if len(s.Fronts) != 1 {
		t.Fatalf("expected 1 front view, got %d", len(s.Fronts))
	}
	if s.Lefts != nil || s.Rights != nil || s.Rears != nil {
		t.Fatal("pseudo samples never carry side or rear views")
	}
	if s.Controls != nil {
		t.Fatal("pseudo samples never carry control labels")
	}
}

func TestPseudoDatasetGetOutOfRange(t *testing.T) {
	path := writePseudoPreload(t, 2, 3)

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 2})
	ds, err := NewPseudoDataset([]string{path}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewPseudoDataset failed: %v", err)
	}
	if _, err := ds.Get(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestPseudoDatasetRejectsPredMismatch(t *testing.T) {
	path := writePseudoPreload(t, 2, 1)

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	if _, err := NewPseudoDataset([]string{path}, cfg, golog.NewTestLogger(t)); err == nil {
		t.Fatal("expected pred length mismatch error, got nil")
	}
}

func TestPseudoDatasetYield(t *testing.T) {
	path := writePseudoPreload(t, 2, 3)

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 2, BatchSize: 2})
	ds, err := NewPseudoDataset([]string{path}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewPseudoDataset failed: %v", err)
	}

	_, inputs, labels, err := ds.Yield()
	if err != nil {
		t.Fatalf("first Yield failed: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected front + goal input tensors, got %d", len(inputs))
	}
	if dims := inputs[0].Shape().Dimensions; len(dims) != 4 || dims[0] != 2 || dims[1] != 3 {
		t.Fatalf("front batch shape wrong: %v", dims)
	}
	// The (0,0) seed is excluded: two predicted points per window.
	if dims := labels[0].Shape().Dimensions; len(dims) != 3 || dims[0] != 2 || dims[1] != 2 || dims[2] != 2 {
		t.Fatalf("label batch shape wrong: %v", dims)
	}

	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("second Yield failed: %v", err)
	}
	if _, _, _, err := ds.Yield(); err != io.EOF {
		t.Fatalf("expected io.EOF after epoch, got %v", err)
	}
	if err := ds.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Restart failed: %v", err)
	}
}
