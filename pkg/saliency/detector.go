// Package saliency is an offline client.VisionClient. It reports the window
// smartcrop scores as most interesting as the single detected object, and
// cannot read text.
package saliency

import (
	"context"
	"fmt"
	"image"

	"github.com/artyom/smartcrop"
	"github.com/disintegration/imaging"

	"github.com/menta2k/product-crop/pkg/processing"
	"github.com/menta2k/product-crop/pkg/types"
)

// Label is the name given to the detected area.
const Label = "salient region"

// Detector finds one salient region per image
type Detector struct {
	config    Config
	processor *processing.Processor
}

// Config holds configuration for saliency detection
type Config struct {
	// WorkSize is the longest side the image is reduced to before analysis.
	WorkSize int
	// WindowWidth and WindowHeight set the aspect of the searched window.
	WindowWidth  int
	WindowHeight int
	// MinContrast is the luminance range, in [0,1], below which an image is
	// treated as empty.
	MinContrast float64
}

// DefaultConfig returns the default detection parameters
func DefaultConfig() Config {
	return Config{
		WorkSize:     256,
		WindowWidth:  100,
		WindowHeight: 100,
		MinContrast:  0.02,
	}
}

// New creates a new Detector with default configuration
func New() *Detector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Detector with custom configuration
func NewWithConfig(config Config) *Detector {
	def := DefaultConfig()
	if config.WorkSize <= 0 {
		config.WorkSize = def.WorkSize
	}
	if config.WindowWidth <= 0 || config.WindowHeight <= 0 {
		config.WindowWidth, config.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	return &Detector{config: config, processor: processing.NewProcessor()}
}

// LocalizeObjects returns at most one object covering the salient area.
func (d *Detector) LocalizeObjects(ctx context.Context, data []byte) ([]types.DetectedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := d.processor.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	box, ok, err := d.Locate(img)
	if err != nil || !ok {
		return nil, err
	}
	x1, y1 := box.Left+box.Width, box.Top+box.Height
	return []types.DetectedObject{{
		Name:  Label,
		Score: 1,
		Vertices: types.NormQuad{
			{X: box.Left, Y: box.Top}, {X: x1, Y: box.Top}, {X: x1, Y: y1}, {X: box.Left, Y: y1},
		},
	}}, nil
}

// DetectText always reports no text.
func (d *Detector) DetectText(ctx context.Context, data []byte) ([]types.DetectedText, error) {
	return nil, ctx.Err()
}

// Locate returns the smartcrop window of a downsampled copy, normalized to
// the image size. Flat images report no window.
func (d *Detector) Locate(img image.Image) (types.NormBox, bool, error) {
	work := imaging.Fit(img, d.config.WorkSize, d.config.WorkSize, imaging.Box)
	b := work.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || contrast(work) < d.config.MinContrast {
		return types.NormBox{}, false, nil
	}

	r, err := smartcrop.Crop(work, d.config.WindowWidth, d.config.WindowHeight)
	if err != nil {
		return types.NormBox{}, false, fmt.Errorf("smartcrop: %w", err)
	}
	r = r.Sub(b.Min).Intersect(image.Rect(0, 0, w, h))
	if r.Empty() {
		return types.NormBox{}, false, nil
	}

	return types.NormBox{
		Left:   float64(r.Min.X) / float64(w),
		Top:    float64(r.Min.Y) / float64(h),
		Width:  float64(r.Dx()) / float64(w),
		Height: float64(r.Dy()) / float64(h),
	}, true, nil
}

// contrast is the luminance range of img in [0,1].
func contrast(img *image.NRGBA) float64 {
	gray := imaging.Grayscale(img)
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(gray.Pix); i += 4 {
		lo, hi = min(lo, gray.Pix[i]), max(hi, gray.Pix[i])
	}
	if hi < lo {
		return 0
	}
	return float64(hi-lo) / 255
}
