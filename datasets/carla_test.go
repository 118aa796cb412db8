package datasets

import (
	"io"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/geom"
)

func nearPoint(a, b geom.Point) bool {
	const eps = 1e-9
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}

func TestCarlaDatasetGetEgoFrame(t *testing.T) {
	// The fixture drives straight along global x at one unit per frame
	// with heading 0, so in the screen-convention ego frame every
	// future position is straight ahead: waypoint i = (0, ego_x - x_i).
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	ds, err := NewCarlaDataset([]string{root}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}
	if ds.Len() != 4 {
		t.Fatalf("expected 4 windows, got %d", ds.Len())
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get(0) failed: %v", err)
	}

	want := []geom.Point{{}, {Y: -1}, {Y: -2}, {Y: -3}, {Y: -4}}
	if len(s.Waypoints) != len(want) {
		t.Fatalf("expected %d waypoints, got %d", len(want), len(s.Waypoints))
	}
	for i, w := range want {
		if !nearPoint(s.Waypoints[i], w) {
			t.Fatalf("waypoint %d: got (%v, %v) want (%v, %v)",
				i, s.Waypoints[i].X, s.Waypoints[i].Y, w.X, w.Y)
		}
	}

	// The goal sits 5 units ahead along global x, which is 5 units
	// "up" (negative y) in the ego frame.
	if !nearPoint(s.TargetPoint, geom.Point{Y: -5}) {
		t.Fatalf("target point: got (%v, %v) want (0, -5)", s.TargetPoint.X, s.TargetPoint.Y)
	}
	if !nearPoint(s.RawCommand, geom.Point{X: 6}) {
		t.Fatalf("raw command: got (%v, %v) want (6, 0)", s.RawCommand.X, s.RawCommand.Y)
	}

	if s.Controls == nil {
		t.Fatal("expected controls on full dataset sample")
	}
	if s.Controls.Steer != 0.1 || s.Controls.Throttle != 0.5 || s.Controls.Command != 2 || s.Controls.Velocity != 3.5 {
		t.Fatalf("controls wrong: %+v", s.Controls)
	}

	if len(s.Fronts) != 1 || len(s.FrontPaths) != 1 {
		t.Fatalf("expected 1 front view, got %d views %d paths", len(s.Fronts), len(s.FrontPaths))
	}
	if s.Fronts[0].Height != 8 || s.Fronts[0].Width != 8 {
		t.Fatalf("front view shape wrong: %dx%d", s.Fronts[0].Height, s.Fronts[0].Width)
	}

	// Side and rear views are switched off in the test config; they
	// must be absent, not empty.
	if s.Lefts != nil || s.Rights != nil || s.Rears != nil {
		t.Fatal("disabled camera views must be nil")
	}
}

func TestCarlaDatasetGetAllViews(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := config.New(config.GlobalConfig{SeqLen: 1, PredLen: 4, Scale: 1, InputResolution: 8})
	ds, err := NewCarlaDataset([]string{root}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get(0) failed: %v", err)
	}
	if len(s.Lefts) != 1 || len(s.Rights) != 1 || len(s.Rears) != 1 {
		t.Fatalf("expected all views loaded, got left=%d right=%d rear=%d",
			len(s.Lefts), len(s.Rights), len(s.Rears))
	}
}

func TestCarlaDatasetGetNaNHeading(t *testing.T) {
	// CARLA logs NaN headings while the vehicle is stationary. The
	// sample must still come out fully finite.
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{
		frames:        10,
		thetaOverride: map[int]string{1: "NaN", 3: "NaN"},
	})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	ds, err := NewCarlaDataset([]string{root}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}

	s, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get(0) failed: %v", err)
	}
	for i, wp := range s.Waypoints {
		if math.IsNaN(wp.X) || math.IsNaN(wp.Y) || math.IsInf(wp.X, 0) || math.IsInf(wp.Y, 0) {
			t.Fatalf("waypoint %d is not finite: (%v, %v)", i, wp.X, wp.Y)
		}
	}
	if math.IsNaN(s.TargetPoint.X) || math.IsNaN(s.TargetPoint.Y) {
		t.Fatalf("target point is not finite: (%v, %v)", s.TargetPoint.X, s.TargetPoint.Y)
	}

	// The current frame's NaN stays in the cache; substitution happens
	// per Get, so a second call sees the same clean result.
	again, err := ds.Get(0)
	if err != nil {
		t.Fatalf("second Get(0) failed: %v", err)
	}
	for i := range s.Waypoints {
		if !nearPoint(s.Waypoints[i], again.Waypoints[i]) {
			t.Fatalf("waypoint %d differs between calls", i)
		}
	}
}

func TestCarlaDatasetGetOutOfRange(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	ds, err := NewCarlaDataset([]string{root}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}

	for _, index := range []int{-1, ds.Len(), ds.Len() + 10} {
		_, err := ds.Get(index)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("Get(%d): expected ErrIndexOutOfRange, got %v", index, err)
		}
	}
}

func TestCarlaDatasetCacheIdempotent(t *testing.T) {
	// Samples from a cache-loaded dataset must match the ones from the
	// dataset that built the cache.
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	logger := golog.NewTestLogger(t)

	fresh, err := NewCarlaDataset([]string{root}, cfg, logger)
	if err != nil {
		t.Fatalf("fresh dataset failed: %v", err)
	}
	cached, err := NewCarlaDataset([]string{root}, cfg, logger)
	if err != nil {
		t.Fatalf("cached dataset failed: %v", err)
	}

	if fresh.Len() != cached.Len() {
		t.Fatalf("lengths differ: %d vs %d", fresh.Len(), cached.Len())
	}
	for i := 0; i < fresh.Len(); i++ {
		a, err := fresh.Get(i)
		if err != nil {
			t.Fatalf("fresh Get(%d) failed: %v", i, err)
		}
		b, err := cached.Get(i)
		if err != nil {
			t.Fatalf("cached Get(%d) failed: %v", i, err)
		}
		for j := range a.Waypoints {
			if !nearPoint(a.Waypoints[j], b.Waypoints[j]) {
				t.Fatalf("window %d waypoint %d differs", i, j)
			}
		}
		if !nearPoint(a.TargetPoint, b.TargetPoint) {
			t.Fatalf("window %d target differs", i)
		}
		if a.FrontPaths[0] != b.FrontPaths[0] {
			t.Fatalf("window %d front path differs", i)
		}
	}
}

func TestCarlaDatasetYield(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4, BatchSize: 3})
	ds, err := NewCarlaDataset([]string{root}, cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}

	// 4 windows with batch size 3: one full batch, one remainder, EOF.
	_, inputs, labels, err := ds.Yield()
	if err != nil {
		t.Fatalf("first Yield failed: %v", err)
	}
	// One front tensor per past/current step plus the goal tensor.
	if len(inputs) != cfg.SeqLen+1 {
		t.Fatalf("expected %d input tensors, got %d", cfg.SeqLen+1, len(inputs))
	}
	if dims := inputs[0].Shape().Dimensions; len(dims) != 4 || dims[0] != 3 || dims[1] != 3 || dims[2] != 8 || dims[3] != 8 {
		t.Fatalf("front batch shape wrong: %v", dims)
	}
	if dims := inputs[len(inputs)-1].Shape().Dimensions; len(dims) != 2 || dims[0] != 3 || dims[1] != 2 {
		t.Fatalf("goal batch shape wrong: %v", dims)
	}
	if len(labels) != 1 {
		t.Fatalf("expected 1 label tensor, got %d", len(labels))
	}
	if dims := labels[0].Shape().Dimensions; len(dims) != 3 || dims[0] != 3 || dims[1] != 4 || dims[2] != 2 {
		t.Fatalf("label batch shape wrong: %v", dims)
	}

	_, inputs, _, err = ds.Yield()
	if err != nil {
		t.Fatalf("second Yield failed: %v", err)
	}
	if dims := inputs[0].Shape().Dimensions; dims[0] != 1 {
		t.Fatalf("remainder batch size wrong: %v", dims)
	}

	if _, _, _, err := ds.Yield(); err != io.EOF {
		t.Fatalf("expected io.EOF after epoch, got %v", err)
	}

	// Restart replays the epoch with the current order.
	if err := ds.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Restart failed: %v", err)
	}
}

func TestCarlaDatasetShuffleDeterministic(t *testing.T) {
	root := t.TempDir()
	writeRoute(t, root, "route_00", routeSpec{frames: 10})

	cfg := testConfig(config.GlobalConfig{SeqLen: 1, PredLen: 4})
	logger := golog.NewTestLogger(t)

	a, err := NewCarlaDataset([]string{root}, cfg, logger)
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}
	b, err := NewCarlaDataset([]string{root}, cfg, logger)
	if err != nil {
		t.Fatalf("NewCarlaDataset failed: %v", err)
	}

	a.Shuffle(42)
	b.Shuffle(42)
	for i := range a.order {
		if a.order[i] != b.order[i] {
			t.Fatalf("orders diverge at %d: %d vs %d", i, a.order[i], b.order[i])
		}
	}

	b.Shuffle(43)
	same := true
	for i := range a.order {
		if a.order[i] != b.order[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical order")
	}
}
