// Package viz renders ego-frame waypoint trajectories for eyeballing
// dataset and model output.
package viz

import (
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/selfdrive-lab/carladata/geom"
)

// toXYs converts points to a plotter series.
func toXYs(points []geom.Point) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, p := range points {
		xys[i].X = p.X
		xys[i].Y = p.Y
	}
	return xys
}

// SaveWaypointPlot writes a PNG of one window's ego-frame geometry:
// the waypoint trajectory (grey line, dots), optional model predictions
// (blue), and the goal point (red). The ego vehicle sits at the origin.
func SaveWaypointPlot(path string, waypoints, predicted []geom.Point, target geom.Point) error {
	p := plot.New()
	p.Title.Text = "Ego-frame waypoints"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	wp := toXYs(waypoints)
	line, err := plotter.NewLine(wp)
	if err != nil {
		return errors.Wrap(err, "waypoint line")
	}
	line.Color = color.RGBA{R: 120, G: 120, B: 120, A: 220}
	line.Width = vg.Points(0.8)
	p.Add(line)
	p.Legend.Add("waypoints", line)

	dots, err := plotter.NewScatter(wp)
	if err != nil {
		return errors.Wrap(err, "waypoint scatter")
	}
	dots.GlyphStyle.Color = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	dots.GlyphStyle.Radius = vg.Points(1.8)
	p.Add(dots)

	if len(predicted) > 0 {
		pr, err := plotter.NewScatter(toXYs(predicted))
		if err != nil {
			return errors.Wrap(err, "prediction scatter")
		}
		pr.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
		pr.GlyphStyle.Radius = vg.Points(2.4)
		p.Add(pr)
		p.Legend.Add("predicted", pr)
	}

	goal, err := plotter.NewScatter(plotter.XYs{{X: target.X, Y: target.Y}})
	if err != nil {
		return errors.Wrap(err, "goal scatter")
	}
	goal.GlyphStyle.Color = color.RGBA{R: 200, G: 30, B: 30, A: 220}
	goal.GlyphStyle.Radius = vg.Points(3)
	p.Add(goal)
	p.Legend.Add("goal", goal)

	p.Add(plotter.NewGrid())

	all := append(append(append(plotter.XYs{}, wp...), toXYs(predicted)...), plotter.XY{X: target.X, Y: target.Y})
	xmin, xmax, ymin, ymax := autoRange(all)
	p.X.Min, p.X.Max = xmin, xmax
	p.Y.Min, p.Y.Max = ymin, ymax

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// autoRange computes padded axis bounds covering all points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
