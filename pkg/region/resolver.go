// Package region turns detection results or a caller-supplied box into the
// pixel-space region the crop is centered on.
package region

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/menta2k/product-crop/pkg/types"
)

// ErrDegenerateRegion is returned when a resolved region has a non-positive side.
var ErrDegenerateRegion = errors.New("region: degenerate region")

// Strategy selects how several detected objects are merged into one box.
type Strategy string

const (
	// StrategyExtremes takes the minimum of every object's first corner and the
	// maximum of every object's third corner, independently per axis.
	StrategyExtremes Strategy = "extremes"

	// StrategyUnion takes the bounding extent of all four corners of every object.
	StrategyUnion Strategy = "union"
)

// Source tells where a resolved region came from.
type Source int

const (
	SourceFullFrame Source = iota
	SourceCaller
	SourceObjects
)

func (s Source) String() string {
	switch s {
	case SourceCaller:
		return "caller"
	case SourceObjects:
		return "objects"
	default:
		return "full_frame"
	}
}

// Config holds the resolver settings.
type Config struct {
	// PaddingPx is added around a single detected object, in source pixels.
	PaddingPx float64
	Strategy  Strategy
}

// DefaultConfig returns padding disabled and the extremes strategy.
func DefaultConfig() Config {
	return Config{PaddingPx: 0, Strategy: StrategyExtremes}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Region types.Region
	Source Source
	// Padded is true when single-object padding was applied.
	Padded bool
}

// ObjectDerived reports whether the region came from detected objects.
func (r Resolution) ObjectDerived() bool {
	return r.Source == SourceObjects
}

// Resolver derives the region of interest.
type Resolver struct {
	config Config
	logger *slog.Logger
}

// New creates a Resolver with the default configuration.
func New() *Resolver {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Resolver with a custom configuration.
func NewWithConfig(config Config) *Resolver {
	if config.Strategy == "" {
		config.Strategy = StrategyExtremes
	}
	return &Resolver{config: config, logger: slog.Default()}
}

// SetLogger replaces the resolver's logger.
func (r *Resolver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Resolve picks the region of interest for an image of the given dimensions.
// A non-nil supplied region wins and is used verbatim.
func (r *Resolver) Resolve(dims types.Dimensions, supplied *types.Region, objects []types.DetectedObject) (Resolution, error) {
	if !dims.Valid() {
		return Resolution{}, fmt.Errorf("%w: image is %dx%d", ErrDegenerateRegion, dims.Width, dims.Height)
	}

	var res Resolution
	switch {
	case supplied != nil:
		res = Resolution{Region: *supplied, Source: SourceCaller}
	case len(objects) == 0:
		res = Resolution{Region: types.FullFrame(dims), Source: SourceFullFrame}
	case len(objects) == 1:
		box, padded := r.paddedBox(dims, objects[0])
		res = Resolution{Region: box.ToRegion(dims).Clamp(dims), Source: SourceObjects, Padded: padded}
	default:
		var box types.NormBox
		if r.config.Strategy == StrategyUnion {
			box = UnionBox(objects)
		} else {
			box = ExtremesBox(objects)
		}
		res = Resolution{Region: box.ToRegion(dims).Clamp(dims), Source: SourceObjects}
	}

	if res.Region.Empty() {
		return Resolution{}, fmt.Errorf("%w: %+v from %s", ErrDegenerateRegion, res.Region, res.Source)
	}

	r.logger.Debug("region resolved",
		"source", res.Source.String(),
		"objects", len(objects),
		"strategy", string(r.config.Strategy),
		"padded", res.Padded,
		"region", res.Region)
	return res, nil
}

// paddedBox converts one object to a normalized box, applying padding only when
// the padded box stays inside [0,1] on every edge.
func (r *Resolver) paddedBox(dims types.Dimensions, obj types.DetectedObject) (types.NormBox, bool) {
	v0, v2 := obj.Vertices[0], obj.Vertices[2]

	xRate := r.config.PaddingPx / float64(dims.Width)
	yRate := r.config.PaddingPx / float64(dims.Height)

	padded := xRate != 0 || yRate != 0
	if padded {
		left := v0.X - xRate
		top := v0.Y - yRate
		width := v2.X - v0.X + 2*xRate
		height := v2.Y - v0.Y + 2*yRate
		if left < 0 || top < 0 || math.Max(left, 0)+width > 1 || math.Max(top, 0)+height > 1 {
			xRate, yRate = 0, 0
			padded = false
		}
	}

	return types.NormBox{
		Left:   math.Max(v0.X-xRate, 0),
		Top:    math.Max(v0.Y-yRate, 0),
		Width:  math.Min(v2.X-v0.X+2*xRate, 1),
		Height: math.Min(v2.Y-v0.Y+2*yRate, 1),
	}, padded
}

// ExtremesBox merges objects by per-axis extremes of their first and third corners.
// This is not a rectangle union when the corners are not ordered top-left/bottom-right.
func ExtremesBox(objects []types.DetectedObject) types.NormBox {
	left, top := 1.0, 1.0
	right, bottom := 0.0, 0.0
	for _, obj := range objects {
		left = math.Min(left, obj.Vertices[0].X)
		top = math.Min(top, obj.Vertices[0].Y)
		right = math.Max(right, obj.Vertices[2].X)
		bottom = math.Max(bottom, obj.Vertices[2].Y)
	}
	return types.NormBox{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

// UnionBox merges objects by the bounding extent of all their corners.
func UnionBox(objects []types.DetectedObject) types.NormBox {
	left, top := 1.0, 1.0
	right, bottom := 0.0, 0.0
	for _, obj := range objects {
		for _, v := range obj.Vertices {
			left = math.Min(left, v.X)
			top = math.Min(top, v.Y)
			right = math.Max(right, v.X)
			bottom = math.Max(bottom, v.Y)
		}
	}
	return types.NormBox{Left: left, Top: top, Width: right - left, Height: bottom - top}
}
