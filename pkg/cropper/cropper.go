package cropper

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/types"
)

// ErrInvalidDimensions is returned when source or target dimensions are not positive.
var ErrInvalidDimensions = errors.New("cropper: invalid dimensions")

// DefaultMaxPixels caps both the target and the resized raster (40 MP, about
// 160 MB as NRGBA).
const DefaultMaxPixels = 40_000_000

// Transformer computes and applies aspect-fill resize plus centered crop
type Transformer struct {
	config Config
	filter imaging.ResampleFilter
	logger *slog.Logger
}

// Config holds configuration for the transform
type Config struct {
	// PreCrop extracts the region from the source before resizing.
	PreCrop bool
	// Filter names the resample filter: lanczos, catmullrom, linear, box or nearest.
	Filter string
	// MaxPixels bounds width*height of the target and of the resized raster.
	// Zero means DefaultMaxPixels.
	MaxPixels int64
}

// DefaultConfig returns pre-crop disabled with Lanczos resampling
func DefaultConfig() Config {
	return Config{PreCrop: false, Filter: "lanczos", MaxPixels: DefaultMaxPixels}
}

// New creates a new Transformer with default configuration
func New() *Transformer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Transformer with custom configuration
func NewWithConfig(config Config) *Transformer {
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	return &Transformer{
		config: config,
		filter: FilterByName(config.Filter),
		logger: slog.Default(),
	}
}

// SetLogger replaces the transformer's logger
func (t *Transformer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// PreCrop reports whether the pre-crop mode is enabled
func (t *Transformer) PreCrop() bool {
	return t.config.PreCrop
}

// FilterByName maps a filter name to an imaging filter, defaulting to Lanczos
func FilterByName(name string) imaging.ResampleFilter {
	switch strings.ToLower(name) {
	case "nearest":
		return imaging.NearestNeighbor
	case "box":
		return imaging.Box
	case "linear":
		return imaging.Linear
	case "catmullrom":
		return imaging.CatmullRom
	default:
		return imaging.Lanczos
	}
}

// Plan is the full description of one transform
type Plan struct {
	Scale   float64
	Source  types.Dimensions
	Target  types.Dimensions
	Resized types.Dimensions
	// CenterX and CenterY locate the region center in the resized raster.
	CenterX int
	CenterY int
	Crop    types.CropPlan
	// Extract is the source rectangle cut before resizing when pre-crop is on.
	Extract *types.Region
}

// Exact reports whether the crop matches the target size on both axes
func (p Plan) Exact() bool {
	return p.Crop.Width == p.Target.Width && p.Crop.Height == p.Target.Height
}

// MaxPixels returns the pixel cap in effect
func (t *Transformer) MaxPixels() int64 {
	return t.config.MaxPixels
}

// CheckSize rejects a target, or the cover resize of src to it, larger than
// MaxPixels. A zero src checks the target only.
func (t *Transformer) CheckSize(src, target types.Dimensions) error {
	if err := t.checkPixels("target", target); err != nil {
		return err
	}
	if !src.Valid() || !target.Valid() {
		return nil
	}
	return t.checkPixels("resize", resizedSize(src, coverScale(src, target)))
}

func (t *Transformer) checkPixels(what string, d types.Dimensions) error {
	if float64(d.Width)*float64(d.Height) > float64(t.config.MaxPixels) {
		return fmt.Errorf("%w: %s %dx%d exceeds %d pixels",
			ErrInvalidDimensions, what, d.Width, d.Height, t.config.MaxPixels)
	}
	return nil
}

// Plan computes the cover scale and the crop centered on roi.
func (t *Transformer) Plan(src, target types.Dimensions, roi types.Region) (Plan, error) {
	if err := t.CheckSize(src, target); err != nil {
		return Plan{}, err
	}

	if t.config.PreCrop {
		extract, err := PreCropRegion(src, roi)
		if err != nil {
			return Plan{}, err
		}
		cropped := types.Dimensions{Width: extract.Width, Height: extract.Height}
		plan, err := AspectFill(cropped, target, types.FullFrame(cropped))
		if err != nil {
			return Plan{}, err
		}
		if err := t.checkPixels("resize", plan.Resized); err != nil {
			return Plan{}, err
		}
		plan.Extract = &extract
		t.log(plan)
		return plan, nil
	}

	plan, err := AspectFill(src, target, roi)
	if err != nil {
		return Plan{}, err
	}
	t.log(plan)
	return plan, nil
}

func (t *Transformer) log(p Plan) {
	t.logger.Debug("crop planned",
		"scale", p.Scale,
		"resized", p.Resized,
		"center_x", p.CenterX,
		"center_y", p.CenterY,
		"crop", p.Crop,
		"exact", p.Exact(),
		"pre_crop", p.Extract != nil)
}

// AspectFill is the pure transform: scale so the source covers target on both
// axes, then place a target-sized window centered on roi, clamped to the raster.
// The window never pads: near an edge it shrinks instead.
func AspectFill(src, target types.Dimensions, roi types.Region) (Plan, error) {
	if !src.Valid() || !target.Valid() {
		return Plan{}, fmt.Errorf("%w: source %dx%d, target %dx%d",
			ErrInvalidDimensions, src.Width, src.Height, target.Width, target.Height)
	}

	tw, th := float64(target.Width), float64(target.Height)
	scale := coverScale(src, target)
	if math.IsInf(scale, 0) || math.IsNaN(scale) {
		return Plan{}, fmt.Errorf("%w: scale %v", ErrInvalidDimensions, scale)
	}

	resized := resizedSize(src, scale)

	// One pixel is trimmed from each side of the region before centering.
	centerX := types.RoundHalfUp(float64(roi.Left)*scale + float64(roi.Width-2)*scale/2)
	centerY := types.RoundHalfUp(float64(roi.Top)*scale + float64(roi.Height-2)*scale/2)

	originX := max(int(math.Floor(float64(centerX)-tw/2)), 0)
	originY := max(int(math.Floor(float64(centerY)-th/2)), 0)

	// Only a region lying past the frame puts the origin outside the raster.
	if resized.Width-originX <= 0 || resized.Height-originY <= 0 {
		return Plan{}, fmt.Errorf("%w: region %+v lies outside the %dx%d source",
			region.ErrDegenerateRegion, roi, src.Width, src.Height)
	}

	crop := types.CropPlan{
		Left:   originX,
		Top:    originY,
		Width:  min(resized.Width-originX, target.Width),
		Height: min(resized.Height-originY, target.Height),
	}

	return Plan{
		Scale:   scale,
		Source:  src,
		Target:  target,
		Resized: resized,
		CenterX: centerX,
		CenterY: centerY,
		Crop:    crop,
	}, nil
}

func coverScale(src, target types.Dimensions) float64 {
	return math.Max(float64(target.Width)/float64(src.Width), float64(target.Height)/float64(src.Height))
}

func resizedSize(src types.Dimensions, scale float64) types.Dimensions {
	return types.Dimensions{
		Width:  types.RoundHalfUp(float64(src.Width) * scale),
		Height: types.RoundHalfUp(float64(src.Height) * scale),
	}
}

// PreCropRegion is the source rectangle extracted in pre-crop mode: the region
// shrunk by two pixels on width and height, clamped to the source.
func PreCropRegion(src types.Dimensions, roi types.Region) (types.Region, error) {
	extract := types.Region{
		Left:   roi.Left,
		Top:    roi.Top,
		Width:  roi.Width - 2,
		Height: roi.Height - 2,
	}.Clamp(src)
	if extract.Empty() {
		return types.Region{}, fmt.Errorf("%w: pre-crop of %+v is empty", ErrInvalidDimensions, roi)
	}
	return extract, nil
}

// Apply executes a plan against the source image
func (t *Transformer) Apply(img image.Image, plan Plan) (*image.NRGBA, error) {
	if plan.Crop.Width <= 0 || plan.Crop.Height <= 0 {
		return nil, fmt.Errorf("%w: empty crop %+v", ErrInvalidDimensions, plan.Crop)
	}

	src := img
	if plan.Extract != nil {
		src = imaging.Crop(img, plan.Extract.Rect().Add(img.Bounds().Min))
	}

	resized := imaging.Resize(src, plan.Resized.Width, plan.Resized.Height, t.filter)
	out := imaging.Crop(resized, plan.Crop.Rect())

	b := out.Bounds()
	if b.Dx() != plan.Crop.Width || b.Dy() != plan.Crop.Height {
		return nil, fmt.Errorf("crop produced %dx%d, planned %dx%d",
			b.Dx(), b.Dy(), plan.Crop.Width, plan.Crop.Height)
	}
	return out, nil
}
