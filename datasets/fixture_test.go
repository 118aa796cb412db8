package datasets

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// routeSpec describes a synthetic recorded route: frames drive in a
// straight line along global x (x = frame number, y = 0, theta = 0)
// with the goal point 5 units ahead, unless overridden per frame.
type routeSpec struct {
	frames int

	// thetaOverride maps a 1-indexed frame to a heading JSON literal
	// (e.g. "NaN") replacing the default "0.0".
	thetaOverride map[int]string

	// skipViews drops the left/right/rear image directories.
	skipViews bool
}

// writeRoute lays out one route directory under root.
func writeRoute(t *testing.T, root, name string, spec routeSpec) string {
	t.Helper()
	routeDir := filepath.Join(root, name)

	views := []string{"rgb_front"}
	if !spec.skipViews {
		views = append(views, "rgb_left", "rgb_right", "rgb_rear")
	}
	for _, view := range views {
		if err := os.MkdirAll(filepath.Join(routeDir, view), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", view, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(routeDir, "measurements"), 0o755); err != nil {
		t.Fatalf("failed to create measurements dir: %v", err)
	}

	for frame := 1; frame <= spec.frames; frame++ {
		for _, view := range views {
			writeFramePNG(t, filepath.Join(routeDir, view, fmt.Sprintf("%04d.png", frame)), frame)
		}

		theta := "0.0"
		if spec.thetaOverride != nil {
			if o, ok := spec.thetaOverride[frame]; ok {
				theta = o
			}
		}
		record := fmt.Sprintf(`{"x": %d.0, "y": 0.0, "theta": %s, "x_command": %d.0, "y_command": 0.0, `+
			`"steer": 0.1, "throttle": 0.5, "brake": 0.0, "command": 2, "speed": 3.5}`,
			frame, theta, frame+5)
		path := filepath.Join(routeDir, "measurements", fmt.Sprintf("%04d.json", frame))
		if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
			t.Fatalf("failed to write measurement %s: %v", path, err)
		}
	}
	return routeDir
}

// writeFramePNG writes a tiny 16x16 frame whose red channel encodes the
// frame number, so image identity is checkable after preprocessing.
func writeFramePNG(t *testing.T, path string, frame int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	c := color.RGBA{R: uint8(frame * 10 % 256), G: 50, B: 100, A: 255}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode %s: %v", path, err)
	}
}
