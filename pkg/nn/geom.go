package nn

import (
	"math"

	"github.com/chewxy/math32"
)

// Point is a 2D point. Depending on the caller it holds normalized [0,1] coordinates
// or pixel coordinates, which is why it's float32 and not int.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Pixel rounds the point to the nearest integer pixel
func (p Point) Pixel() (int, int) {
	return int(math32.Floor(p.X + 0.5)), int(math32.Floor(p.Y + 0.5))
}

// Scale multiplies X by sx and Y by sy (eg to go from normalized to pixel coordinates)
func (p Point) Scale(sx, sy float32) Point {
	return Point{X: p.X * sx, Y: p.Y * sy}
}

// Midpoint returns the exact midpoint between a and b
func Midpoint(a, b Point) Point {
	return Point{
		X: (a.X + b.X) / 2,
		Y: (a.Y + b.Y) / 2,
	}
}

// Box is an axis aligned box, stored as two corners.
// TopLeft is expected to be <= BottomRight on both axes, but this is not enforced.
type Box struct {
	TopLeft     Point `json:"topLeft"`
	BottomRight Point `json:"bottomRight"`
}

func MakeBox(x1, y1, x2, y2 float32) Box {
	return Box{
		TopLeft:     Point{X: x1, Y: y1},
		BottomRight: Point{X: x2, Y: y2},
	}
}

func (b Box) Width() float32 {
	return b.BottomRight.X - b.TopLeft.X
}

func (b Box) Height() float32 {
	return b.BottomRight.Y - b.TopLeft.Y
}

func (b Box) Center() Point {
	return Midpoint(b.TopLeft, b.BottomRight)
}

// Scale both corners. Use this to go from normalized coordinates to pixels.
func (b Box) Scale(sx, sy float32) Box {
	return Box{
		TopLeft:     b.TopLeft.Scale(sx, sy),
		BottomRight: b.BottomRight.Scale(sx, sy),
	}
}

// Shrink the box symmetrically around its center, so that the result is paddingFactor
// times the original width and height.
// The shift on each axis is truncated toward zero.
func (b Box) Shrink(paddingFactor float64) Box {
	factor := 1 - paddingFactor
	xShift := float32(math.Trunc(float64(b.Width()) * factor / 2))
	yShift := float32(math.Trunc(float64(b.Height()) * factor / 2))
	return Box{
		TopLeft:     Point{X: b.TopLeft.X + xShift, Y: b.TopLeft.Y + yShift},
		BottomRight: Point{X: b.BottomRight.X - xShift, Y: b.BottomRight.Y - yShift},
	}
}

// Rect is an integer pixel rectangle
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

// Return the pixel rectangle enclosing the box (corners are rounded to the nearest pixel)
func (b Box) Rect() Rect {
	x1, y1 := b.TopLeft.Pixel()
	x2, y2 := b.BottomRight.Pixel()
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}
