// Package geometry implements axis-aligned relationship tests over 4-point rectangles.
//
// Both tests work on the bounding extent of the corners, not on the polygons
// themselves, so two rotated quads can report an overlap their true shapes do not have.
package geometry

import (
	"math"

	"github.com/menta2k/product-crop/pkg/types"
)

// Extent is the axis-aligned bounding box of a quad.
type Extent struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// ExtentOf computes the bounding extent of the four corners.
func ExtentOf(q types.Quad) Extent {
	e := Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, p := range q {
		e.MinX = math.Min(e.MinX, p.X)
		e.MinY = math.Min(e.MinY, p.Y)
		e.MaxX = math.Max(e.MaxX, p.X)
		e.MaxY = math.Max(e.MaxY, p.Y)
	}
	return e
}

// ContainsPoint reports whether p lies inside the extent, edges included.
func (e Extent) ContainsPoint(p types.Point) bool {
	return p.X >= e.MinX && p.X <= e.MaxX && p.Y >= e.MinY && p.Y <= e.MaxY
}

// Overlaps reports whether the extents of a and b intersect. Shared edges count.
func Overlaps(a, b types.Quad) bool {
	ea, eb := ExtentOf(a), ExtentOf(b)
	if ea.MaxX < eb.MinX || eb.MaxX < ea.MinX {
		return false
	}
	if ea.MaxY < eb.MinY || eb.MaxY < ea.MinY {
		return false
	}
	return true
}

// Contains reports whether every corner of inner falls within outer's extent.
func Contains(outer, inner types.Quad) bool {
	e := ExtentOf(outer)
	for _, p := range inner {
		if !e.ContainsPoint(p) {
			return false
		}
	}
	return true
}
