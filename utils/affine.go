package utils

import (
	"fmt"
	"math"
)

// Affine is a 2D affine transformation matrix
//
//	| x' |   | A B C | | x |
//	| y' | = | D E F | | y |
//	| 1  |   | 0 0 1 | | 1 |
//
// Raster transforms map (col, row) pixel coordinates to CRS coordinates.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Point is an (x, y) pair in either pixel or CRS space.
type Point struct {
	X, Y float64
}

const affineEpsilon = 1e-12

func Identity() Affine {
	return Affine{A: 1, E: 1}
}

func Translation(x, y float64) Affine {
	return Affine{A: 1, C: x, E: 1, F: y}
}

func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// cosSinDeg returns exact values for multiples of 90 degrees so that
// quarter turns do not accumulate floating point noise.
func cosSinDeg(deg float64) (float64, float64) {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	switch deg {
	case 0:
		return 1, 0
	case 90:
		return 0, 1
	case 180:
		return -1, 0
	case 270:
		return 0, -1
	}
	rad := deg * math.Pi / 180.0
	return math.Cos(rad), math.Sin(rad)
}

// Rotation returns a counter-clockwise rotation of angle degrees about
// pivot, or about the origin if pivot is nil.
func Rotation(angle float64, pivot *Point) Affine {
	ca, sa := cosSinDeg(angle)
	if pivot == nil {
		return Affine{A: ca, B: -sa, D: sa, E: ca}
	}
	px, py := pivot.X, pivot.Y
	return Affine{
		A: ca, B: -sa, C: px - px*ca + py*sa,
		D: sa, E: ca, F: py - px*sa - py*ca,
	}
}

// Multiply composes two transforms. The result applies o first, then a.
func (a Affine) Multiply(o Affine) Affine {
	return Affine{
		A: a.A*o.A + a.B*o.D,
		B: a.A*o.B + a.B*o.E,
		C: a.A*o.C + a.B*o.F + a.C,
		D: a.D*o.A + a.E*o.D,
		E: a.D*o.B + a.E*o.E,
		F: a.D*o.C + a.E*o.F + a.F,
	}
}

func (a Affine) Apply(x, y float64) (float64, float64) {
	return a.A*x + a.B*y + a.C, a.D*x + a.E*y + a.F
}

func (a Affine) Determinant() float64 {
	return a.A*a.E - a.B*a.D
}

func (a Affine) Inverse() (Affine, error) {
	det := a.Determinant()
	if math.Abs(det) < affineEpsilon {
		return Affine{}, fmt.Errorf("Affine transform %v is degenerate and cannot be inverted", a)
	}
	idet := 1.0 / det
	ra := a.E * idet
	rb := -a.B * idet
	rd := -a.D * idet
	re := a.A * idet
	return Affine{
		A: ra, B: rb, C: -a.C*ra - a.F*rb,
		D: rd, E: re, F: -a.C*rd - a.F*re,
	}, nil
}

// IsRectilinear is true when the transform has no rotation or shear terms.
func (a Affine) IsRectilinear() bool {
	return math.Abs(a.B) < affineEpsilon && math.Abs(a.D) < affineEpsilon
}

func (a Affine) AlmostEqual(o Affine, tol float64) bool {
	return math.Abs(a.A-o.A) <= tol && math.Abs(a.B-o.B) <= tol && math.Abs(a.C-o.C) <= tol &&
		math.Abs(a.D-o.D) <= tol && math.Abs(a.E-o.E) <= tol && math.Abs(a.F-o.F) <= tol
}

// ToGDAL returns the transform in GDAL geotransform order.
func (a Affine) ToGDAL() [6]float64 {
	return [6]float64{a.C, a.A, a.B, a.F, a.D, a.E}
}

func AffineFromGDAL(gt [6]float64) Affine {
	return Affine{A: gt[1], B: gt[2], C: gt[0], D: gt[4], E: gt[5], F: gt[3]}
}

func (a Affine) String() string {
	return fmt.Sprintf("Affine(%g, %g, %g, %g, %g, %g)", a.A, a.B, a.C, a.D, a.E, a.F)
}
