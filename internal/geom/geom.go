package geom

import "math"

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p Point) Add(q Point) Point       { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point       { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Scale(k float64) Point   { return Point{X: p.X * k, Y: p.Y * k} }
func (p Point) Cross(q Point) float64   { return p.X*q.Y - p.Y*q.X }
func (p Point) Dist(q Point) float64    { return math.Sqrt(p.DistSq(q)) }
func (p Point) Array() [2]float64       { return [2]float64{p.X, p.Y} }
func PointFromArray(a [2]float64) Point { return Point{X: a[0], Y: a[1]} }

func (p Point) DistSq(q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// Segment is a closed line segment from A to B.
type Segment struct {
	A Point `json:"a" yaml:"a"`
	B Point `json:"b" yaml:"b"`
}

func Seg(x0, y0, x1, y1 float64) Segment {
	return Segment{A: Point{X: x0, Y: y0}, B: Point{X: x1, Y: y1}}
}

// At returns the point at parametric position t along the segment.
func (s Segment) At(t float64) Point { return s.A.Add(s.B.Sub(s.A).Scale(t)) }

func (s Segment) Degenerate() bool { return s.A == s.B }

// Ray builds a segment of the given length from origin along angleDeg
// (degrees, counter-clockwise from +x).
func Ray(origin Point, angleDeg, length float64) Segment {
	rad := angleDeg * math.Pi / 180
	return Segment{A: origin, B: Point{X: origin.X + length*math.Cos(rad), Y: origin.Y + length*math.Sin(rad)}}
}

// Intersect reports whether a and b cross. Parallel segments never
// intersect, including colinear ones that overlap.
func Intersect(a, b Segment) bool {
	_, _, _, ok := IntersectAt(a, b)
	return ok
}

// IntersectAt solves a.A + s*(a.B-a.A) = b.A + t*(b.B-b.A) with Cramer's rule.
// ok is true iff the segments are not parallel and both s and t lie in [0,1];
// p is the crossing point in that case.
func IntersectAt(a, b Segment) (p Point, s, t float64, ok bool) {
	dA, eA := a.B.X-a.A.X, a.B.Y-a.A.Y
	dB, eB := b.B.X-b.A.X, b.B.Y-b.A.Y
	det := dB*eA - eB*dA
	if det == 0 {
		return Point{}, 0, 0, false
	}
	px, py := b.A.X-a.A.X, b.A.Y-a.A.Y
	t = (dA*py - eA*px) / det
	s = (dB*py - eB*px) / det
	if t < 0 || t > 1 || s < 0 || s > 1 {
		return Point{}, s, t, false
	}
	return a.At(s), s, t, true
}

// NormalizeDeg wraps an angle in degrees into [0,360).
func NormalizeDeg(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	if m >= 360 {
		m = 0
	}
	return m
}
