// Package geom provides the 2D coordinate-frame math used to re-express
// recorded vehicle poses and goal points in an ego-centric frame.
//
// The rotation convention is the screen convention used by the recorded
// data (x to the right, y downwards), so the rotation block is
// [[c, s], [-s, c]] rather than the textbook [[c, -s], [s, c]]. Callers
// that compute headings as pi/2-theta or pi/2+theta depend on this sign
// pattern, so it must not be "fixed".
package geom

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Point is a 2D point (x, y).
type Point struct {
	X float64
	Y float64
}

// Pose is a 2D pose: a position plus a heading in radians.
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// SafeHeading returns theta, or 0 when theta is not finite. Upstream
// sensor gaps occasionally record NaN headings; a non-finite heading
// poisons every transform in the window, so consumers substitute 0
// before transforming.
func SafeHeading(theta float64) float64 {
	if math.IsNaN(theta) || math.IsInf(theta, 0) {
		return 0
	}
	return theta
}

// frameMatrix builds the 3x3 homogeneous matrix lifting points from the
// frame at (theta, tx, ty) into the common world frame.
func frameMatrix(theta, tx, ty float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, s, tx,
		-s, c, ty,
		0, 0, 1,
	})
}

// TransformPoint re-expresses p, recorded in the source frame, in the
// target frame. Both frames are given as (theta, x, y) in world
// coordinates. The target matrix is inverted with a proper matrix
// inverse; a singular target matrix is reported as an error rather than
// silently producing garbage.
func TransformPoint(p Point, sourceTheta, sourceX, sourceY, targetTheta, targetX, targetY float64) (Point, error) {
	src := frameMatrix(sourceTheta, sourceX, sourceY)
	dst := frameMatrix(targetTheta, targetX, targetY)

	var inv mat.Dense
	if err := inv.Inverse(dst); err != nil {
		return Point{}, errors.Wrap(err, "invert target frame matrix")
	}

	world := mat.NewVecDense(3, []float64{p.X, p.Y, 1})
	world.MulVec(src, world)

	var out mat.VecDense
	out.MulVec(&inv, world)
	return Point{X: out.AtVec(0), Y: out.AtVec(1)}, nil
}

// RotateIntoHeading rotates v by the inverse of the rotation at the
// given heading, using the transpose of the rotation matrix as its
// inverse. This is how the recorded goal point (a bare position with no
// heading of its own) is brought into the ego frame.
func RotateIntoHeading(v Point, heading float64) Point {
	c, s := math.Cos(heading), math.Sin(heading)
	r := mat.NewDense(2, 2, []float64{
		c, -s,
		s, c,
	})
	var out mat.VecDense
	out.MulVec(r.T(), mat.NewVecDense(2, []float64{v.X, v.Y}))
	return Point{X: out.AtVec(0), Y: out.AtVec(1)}
}
