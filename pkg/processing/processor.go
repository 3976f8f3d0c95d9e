package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/product-crop/internal/utils"
	"github.com/menta2k/product-crop/pkg/cropper"
	"github.com/menta2k/product-crop/pkg/types"
)

// Options controls output encoding
type Options struct {
	JPEGQuality  int
	WebPQuality  int
	WebPLossless bool
}

// DefaultOptions returns the encoder defaults
func DefaultOptions() Options {
	return Options{JPEGQuality: 80, WebPQuality: 80}
}

// Processor handles image codec operations
type Processor struct {
	opts Options
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{opts: DefaultOptions()}
}

// NewProcessorWithOptions creates a processor with custom encoder options
func NewProcessorWithOptions(opts Options) *Processor {
	def := DefaultOptions()
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.WebPQuality <= 0 {
		opts.WebPQuality = def.WebPQuality
	}
	return &Processor{opts: opts}
}

// Decode decodes image bytes and reports the format name ("jpeg", "png", "webp", ...)
func (p *Processor) Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, NormalizeFormat(format), nil
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}

	return nil, "", fmt.Errorf("image: unknown or unsupported format")
}

// Encode encodes an image in the given format
func (p *Processor) Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch NormalizeFormat(format) {
	case "webp":
		opts := &webp.Options{Lossless: p.opts.WebPLossless, Quality: float32(p.opts.WebPQuality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("webp encode: %w", err)
		}
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("png encode: %w", err)
		}
	case "gif":
		if err := imaging.Encode(&buf, img, imaging.GIF); err != nil {
			return nil, fmt.Errorf("gif encode: %w", err)
		}
	case "tiff":
		if err := imaging.Encode(&buf, img, imaging.TIFF); err != nil {
			return nil, fmt.Errorf("tiff encode: %w", err)
		}
	case "bmp":
		if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
			return nil, fmt.Errorf("bmp encode: %w", err)
		}
	case "jpeg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.JPEGQuality)); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

// NormalizeFormat maps extensions and aliases to a canonical format name
func NormalizeFormat(format string) string {
	return utils.NormalizeFormat(format)
}

// ContentType returns the MIME type for a format name
func ContentType(format string) string {
	return utils.ContentType(format)
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SizeMB formats a byte count as megabytes with two decimals
func SizeMB(n int) string {
	return fmt.Sprintf("%.2f", float64(n)/(1024*1024))
}

// CreateDebugOverlay draws the region, text boxes and the crop window on the source
func (p *Processor) CreateDebugOverlay(img image.Image, region types.Region, objects []types.DetectedObject, texts []types.DetectedText, plan cropper.Plan) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // region
	gold := color.NRGBA{255, 204, 0, 255} // crop window
	red := color.NRGBA{255, 0, 0, 255}    // text boxes
	blue := color.NRGBA{0, 128, 255, 255} // detected objects
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	dims := types.Dimensions{Width: w, Height: h}
	for _, o := range objects {
		x0, y0, x1, y1 := quadBounds(o.Vertices.ToPixels(dims))
		drawRect(nrgba, x0, y0, x1, y1, blue, 1)
	}

	for i, t := range texts {
		if i == 0 {
			continue // aggregate
		}
		x0, y0, x1, y1 := quadBounds(t.Vertices)
		drawRect(nrgba, x0, y0, x1, y1, red, 1)
	}

	drawRect(nrgba, region.Left, region.Top, region.Left+region.Width, region.Top+region.Height, green, stroke)

	// Map the crop window back to source pixels.
	if plan.Scale > 0 && plan.Crop.Width > 0 {
		offX, offY := 0, 0
		if plan.Extract != nil {
			offX, offY = plan.Extract.Left, plan.Extract.Top
		}
		x0 := offX + int(float64(plan.Crop.Left)/plan.Scale+0.5)
		y0 := offY + int(float64(plan.Crop.Top)/plan.Scale+0.5)
		x1 := offX + int(float64(plan.Crop.Left+plan.Crop.Width)/plan.Scale+0.5)
		y1 := offY + int(float64(plan.Crop.Top+plan.Crop.Height)/plan.Scale+0.5)
		drawRect(nrgba, x0, y0, x1, y1, gold, stroke)
	}

	return nrgba
}

func quadBounds(q types.Quad) (int, int, int, int) {
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for _, pt := range q {
		x0, y0 = math.Min(x0, pt.X), math.Min(y0, pt.Y)
		x1, y1 = math.Max(x1, pt.X), math.Max(y1, pt.Y)
	}
	return int(x0), int(y0), int(x1), int(y1)
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
