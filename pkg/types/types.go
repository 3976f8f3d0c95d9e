// Package types holds the data model shared by the cropping pipeline.
//
// Coordinates live in one of three spaces and each space has its own type:
// normalized detection output (NormPoint, NormQuad), source pixels (Point, Quad,
// Region) and the resized raster (CropPlan). Converting between them is always
// explicit.
package types

import (
	"image"
	"math"
)

// NormPoint is a point normalized to [0,1] relative to the image dimensions.
type NormPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NormQuad holds four normalized corners: top-left, top-right, bottom-right, bottom-left.
type NormQuad [4]NormPoint

// Point is a point in source pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad holds four pixel-space corners in the same winding order as NormQuad.
type Quad [4]Point

// ToPixels scales a normalized quad to pixel space for the given dimensions.
func (q NormQuad) ToPixels(d Dimensions) Quad {
	var out Quad
	for i, p := range q {
		out[i] = Point{X: p.X * float64(d.Width), Y: p.Y * float64(d.Height)}
	}
	return out
}

// DetectedObject is a single object localization result.
type DetectedObject struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Vertices NormQuad `json:"vertices"`
}

// DetectedText is a single text detection result in pixel space.
// The first element of a detection list is the aggregate of all text on the page.
type DetectedText struct {
	Description string `json:"description,omitempty"`
	Vertices    Quad   `json:"vertices"`
}

// Dimensions is the width and height of a raster or a requested output.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Region is a rectangle in source pixel space (the asset region / ROI).
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FullFrame returns the region covering the whole image.
func FullFrame(d Dimensions) Region {
	return Region{Left: 0, Top: 0, Width: d.Width, Height: d.Height}
}

// Quad returns the region's corners as a pixel-space quad.
func (r Region) Quad() Quad {
	right := float64(r.Left + r.Width)
	bottom := float64(r.Top + r.Height)
	left, top := float64(r.Left), float64(r.Top)
	return Quad{
		{X: left, Y: top},
		{X: right, Y: top},
		{X: right, Y: bottom},
		{X: left, Y: bottom},
	}
}

// Empty reports whether the region has a non-positive side.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Clamp restricts the region to [0, d].
func (r Region) Clamp(d Dimensions) Region {
	left := clampInt(r.Left, 0, d.Width)
	top := clampInt(r.Top, 0, d.Height)
	right := clampInt(r.Left+r.Width, left, d.Width)
	bottom := clampInt(r.Top+r.Height, top, d.Height)
	return Region{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// NormBox is an axis-aligned box in normalized space.
type NormBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToRegion converts the box to source pixels, rounding half up.
func (b NormBox) ToRegion(d Dimensions) Region {
	w, h := float64(d.Width), float64(d.Height)
	return Region{
		Left:   RoundHalfUp(b.Left * w),
		Top:    RoundHalfUp(b.Top * h),
		Width:  RoundHalfUp(b.Width * w),
		Height: RoundHalfUp(b.Height * h),
	}
}

// CropPlan is the final crop rectangle in the resized raster's coordinate space.
type CropPlan struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the plan to an image.Rectangle.
func (c CropPlan) Rect() image.Rectangle {
	return image.Rect(c.Left, c.Top, c.Left+c.Width, c.Top+c.Height)
}

// RoundHalfUp rounds to the nearest integer with ties going toward +Inf.
func RoundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
