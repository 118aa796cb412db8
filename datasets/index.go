package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/selfdrive-lab/carladata/config"
	"github.com/selfdrive-lab/carladata/geom"
)

// Camera view subdirectories inside a route.
const (
	frontDir        = "rgb_front"
	leftDir         = "rgb_left"
	rightDir        = "rgb_right"
	rearDir         = "rgb_rear"
	measurementsDir = "measurements"
)

// window is one indexed training example before serialization.
type window struct {
	front, left, right, rear []string
	x, y, theta              []float64
	xCommand, yCommand       float64
	steer, throttle, brake   float64
	command                  int
	velocity                 float64
}

// frameName formats a 1-indexed frame number as its zero-padded PNG
// filename.
func frameName(n int) string {
	return fmt.Sprintf("%04d.png", n)
}

// countFrames returns the number of PNG frames in a route's front
// camera directory, or an error if the directory cannot be read.
func countFrames(routeDir string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(routeDir, frontDir))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			n++
		}
	}
	return n, nil
}

// indexRoute builds every valid window for one route directory.
//
// For N front frames there are (N - pred - 2) / seq windows: the final
// pred frames have no future waypoints and the first frame of each
// recording is unused. Window w's past/current span is frames
// w*seq+1 .. w*seq+seq and its future span the next pred frames. Frame
// files declared by that computation must exist; a hole is a
// data-integrity error for the whole route, not a soft skip.
func indexRoute(routeDir string, seqLen, predLen int) ([]*window, error) {
	numFrames, err := countFrames(routeDir)
	if err != nil {
		return nil, err
	}
	numWindows := (numFrames - predLen - 2) / seqLen
	if numWindows < 0 {
		numWindows = 0
	}

	windows := make([]*window, 0, numWindows)
	for seq := 0; seq < numWindows; seq++ {
		w := &window{}
		var last *Measurement

		// Past and current frames: image paths plus full pose.
		for i := 0; i < seqLen; i++ {
			frame := seq*seqLen + 1 + i
			name := frameName(frame)

			frontPath := filepath.Join(routeDir, frontDir, name)
			if _, err := os.Stat(frontPath); err != nil {
				return nil, errors.Wrapf(err, "route %s: declared frame %d missing", routeDir, frame)
			}
			w.front = append(w.front, frontPath)
			w.left = append(w.left, filepath.Join(routeDir, leftDir, name))
			w.right = append(w.right, filepath.Join(routeDir, rightDir, name))
			w.rear = append(w.rear, filepath.Join(routeDir, rearDir, name))

			m, err := readMeasurement(measurementPath(routeDir, frame))
			if err != nil {
				return nil, err
			}
			w.x = append(w.x, float64(m.X))
			w.y = append(w.y, float64(m.Y))
			w.theta = append(w.theta, float64(m.Theta))
			last = m
		}

		// Controls and goal point come from the final past/current
		// frame's record.
		w.xCommand = float64(last.XCommand)
		w.yCommand = float64(last.YCommand)
		w.steer = float64(last.Steer)
		w.throttle = float64(last.Throttle)
		w.brake = float64(last.Brake)
		w.command = last.Command
		w.velocity = float64(last.Speed)

		// Future frames: position and heading only, with non-finite
		// headings zeroed at index time.
		for i := seqLen; i < seqLen+predLen; i++ {
			frame := seq*seqLen + 1 + i
			m, err := readMeasurement(measurementPath(routeDir, frame))
			if err != nil {
				return nil, err
			}
			w.x = append(w.x, float64(m.X))
			w.y = append(w.y, float64(m.Y))
			w.theta = append(w.theta, geom.SafeHeading(float64(m.Theta)))
		}

		windows = append(windows, w)
	}
	return windows, nil
}

func measurementPath(routeDir string, frame int) string {
	return filepath.Join(routeDir, measurementsDir, fmt.Sprintf("%04d.json", frame))
}

// BuildPreload indexes every route directory under root into a fresh
// preload. Entries that are not route directories, or that carry no
// front camera directory, are skipped; a route whose declared frames
// are inconsistent fails the whole build. Routes are visited in
// directory name order, so rebuilding over unchanged files yields an
// identical preload.
func BuildPreload(root string, cfg config.GlobalConfig, logger golog.Logger) (*Preload, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read data root %s", root)
	}

	pre := NewPreload(cfg.SeqLen, cfg.PredLen)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		routeDir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(routeDir, frontDir)); err != nil {
			logger.Debugw("skipping non-route directory", "dir", routeDir)
			continue
		}

		windows, err := indexRoute(routeDir, cfg.SeqLen, cfg.PredLen)
		if err != nil {
			return nil, errors.Wrapf(err, "index route %s", routeDir)
		}
		logger.Infow("indexed route", "route", routeDir, "windows", len(windows))
		for _, w := range windows {
			pre.append(w)
		}
	}
	return pre, nil
}

// LoadOrBuildPreload returns the preload for a route root, reading the
// cache file if present and building plus persisting it otherwise. An
// existing cache is trusted unconditionally; deleting the file is the
// only way to force re-indexing.
func LoadOrBuildPreload(root string, cfg config.GlobalConfig, logger golog.Logger) (*Preload, error) {
	path := PreloadPath(root, cfg.SeqLen, cfg.PredLen)
	if _, err := os.Stat(path); err == nil {
		pre, err := LoadPreload(path)
		if err != nil {
			return nil, err
		}
		if pre.SeqLen != cfg.SeqLen || pre.PredLen != cfg.PredLen {
			return nil, errors.Errorf("preload %s built for seq=%d pred=%d, want seq=%d pred=%d",
				path, pre.SeqLen, pre.PredLen, cfg.SeqLen, cfg.PredLen)
		}
		logger.Infow("preloading windows from cache", "path", path, "windows", pre.Len())
		return pre, nil
	}

	pre, err := BuildPreload(root, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pre.Save(path); err != nil {
		return nil, err
	}
	logger.Infow("built preload cache", "path", path, "windows", pre.Len())
	return pre, nil
}
