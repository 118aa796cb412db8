package viz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/selfdrive-lab/carladata/geom"
)

func TestSaveWaypointPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "window_0.png")
	waypoints := []geom.Point{{}, {Y: -1}, {Y: -2}, {X: 0.5, Y: -3}}
	predicted := []geom.Point{{Y: -1.1}, {Y: -2.2}}

	err := SaveWaypointPlot(path, waypoints, predicted, geom.Point{Y: -5})
	if err != nil {
		t.Fatalf("SaveWaypointPlot failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("plot not written: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("plot file is empty")
	}
}

func TestSaveWaypointPlotNoPredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window_0.png")
	if err := SaveWaypointPlot(path, []geom.Point{{}, {Y: -1}}, nil, geom.Point{Y: -2}); err != nil {
		t.Fatalf("SaveWaypointPlot without predictions failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("plot not written: %v", err)
	}
}

func TestAutoRange(t *testing.T) {
	xmin, xmax, ymin, ymax := autoRange(nil)
	if xmin != -1 || xmax != 1 || ymin != -1 || ymax != 1 {
		t.Fatalf("empty range wrong: %v %v %v %v", xmin, xmax, ymin, ymax)
	}

	// Degenerate spans still get non-zero padding.
	xmin, xmax, _, _ = autoRange(toXYs([]geom.Point{{X: 2, Y: 0}, {X: 2, Y: 5}}))
	if xmin >= 2 || xmax <= 2 {
		t.Fatalf("degenerate x span not padded: %v %v", xmin, xmax)
	}
}
