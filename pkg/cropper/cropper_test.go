package cropper

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Bright subject in the center, dark background
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	return img
}

func TestNew(t *testing.T) {
	tr := New()
	if tr == nil {
		t.Fatal("New() returned nil")
	}

	if tr.PreCrop() {
		t.Error("Expected pre-crop to be disabled by default")
	}
}

func TestCoverScale(t *testing.T) {
	src := types.Dimensions{Width: 1000, Height: 500}
	target := types.Dimensions{Width: 300, Height: 300}

	plan, err := AspectFill(src, target, types.FullFrame(src))
	if err != nil {
		t.Fatalf("AspectFill failed: %v", err)
	}

	if plan.Scale != 0.6 {
		t.Errorf("Expected scale 0.6, got %f", plan.Scale)
	}
	if plan.Resized != (types.Dimensions{Width: 600, Height: 300}) {
		t.Errorf("Expected resized 600x300, got %+v", plan.Resized)
	}
}

func TestCropCenteredOnRegion(t *testing.T) {
	src := types.Dimensions{Width: 1000, Height: 500}
	target := types.Dimensions{Width: 300, Height: 300}
	roi := types.Region{Left: 400, Top: 100, Width: 200, Height: 200}

	plan, err := AspectFill(src, target, roi)
	if err != nil {
		t.Fatalf("AspectFill failed: %v", err)
	}

	// center = round(400*0.6 + 198*0.6/2) = 299, round(100*0.6 + 59.4) = 119
	if plan.CenterX != 299 || plan.CenterY != 119 {
		t.Errorf("Expected center (299, 119), got (%d, %d)", plan.CenterX, plan.CenterY)
	}

	want := types.CropPlan{Left: 149, Top: 0, Width: 300, Height: 300}
	if plan.Crop != want {
		t.Errorf("Expected crop %+v, got %+v", want, plan.Crop)
	}
	if !plan.Exact() {
		t.Error("Expected exact target size")
	}
}

func TestCropShrinksNearHighEdge(t *testing.T) {
	src := types.Dimensions{Width: 1000, Height: 500}
	target := types.Dimensions{Width: 300, Height: 300}
	roi := types.Region{Left: 900, Top: 0, Width: 100, Height: 500}

	plan, err := AspectFill(src, target, roi)
	if err != nil {
		t.Fatalf("AspectFill failed: %v", err)
	}

	want := types.CropPlan{Left: 419, Top: 0, Width: 181, Height: 300}
	if plan.Crop != want {
		t.Errorf("Expected crop %+v, got %+v", want, plan.Crop)
	}
	if plan.Exact() {
		t.Error("Crop near the edge should be smaller than the target")
	}
}

func TestCropClampsLowEdge(t *testing.T) {
	src := types.Dimensions{Width: 800, Height: 800}
	target := types.Dimensions{Width: 400, Height: 200}
	roi := types.Region{Left: 0, Top: 0, Width: 50, Height: 50}

	plan, err := AspectFill(src, target, roi)
	if err != nil {
		t.Fatalf("AspectFill failed: %v", err)
	}

	if plan.Crop.Left != 0 || plan.Crop.Top != 0 {
		t.Errorf("Expected origin clamped to 0, got (%d, %d)", plan.Crop.Left, plan.Crop.Top)
	}
	if plan.Crop.Width != 400 || plan.Crop.Height != 200 {
		t.Errorf("Expected 400x200, got %dx%d", plan.Crop.Width, plan.Crop.Height)
	}
}

func TestInvalidDimensions(t *testing.T) {
	roi := types.Region{Left: 0, Top: 0, Width: 10, Height: 10}
	cases := []struct {
		src, target types.Dimensions
	}{
		{types.Dimensions{Width: 0, Height: 100}, types.Dimensions{Width: 100, Height: 100}},
		{types.Dimensions{Width: 100, Height: 0}, types.Dimensions{Width: 100, Height: 100}},
		{types.Dimensions{Width: 100, Height: 100}, types.Dimensions{Width: 0, Height: 100}},
		{types.Dimensions{Width: 100, Height: 100}, types.Dimensions{Width: 100, Height: -5}},
	}
	for _, c := range cases {
		if _, err := AspectFill(c.src, c.target, roi); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("Expected ErrInvalidDimensions for %+v -> %+v, got %v", c.src, c.target, err)
		}
	}
}

func TestCropNeverExceedsResizedBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 5000; i++ {
		src := types.Dimensions{Width: 1 + rng.Intn(3000), Height: 1 + rng.Intn(3000)}
		target := types.Dimensions{Width: 1 + rng.Intn(2000), Height: 1 + rng.Intn(2000)}
		left, top := rng.Intn(src.Width), rng.Intn(src.Height)
		roi := types.Region{
			Left:   left,
			Top:    top,
			Width:  1 + rng.Intn(src.Width-left),
			Height: 1 + rng.Intn(src.Height-top),
		}
		inFrame := i%4 != 0
		if !inFrame {
			// Caller regions are not clamped and may lie anywhere.
			roi = types.Region{
				Left:   rng.Intn(3*src.Width) - src.Width,
				Top:    rng.Intn(3*src.Height) - src.Height,
				Width:  1 + rng.Intn(2*src.Width),
				Height: 1 + rng.Intn(2*src.Height),
			}
		}

		plan, err := AspectFill(src, target, roi)
		if err != nil {
			if !inFrame && errors.Is(err, region.ErrDegenerateRegion) {
				continue
			}
			t.Fatalf("AspectFill(%+v, %+v, %+v) failed: %v", src, target, roi, err)
		}

		c := plan.Crop
		if c.Left < 0 || c.Top < 0 {
			t.Fatalf("negative origin %+v for %+v %+v %+v", c, src, target, roi)
		}
		if c.Left+c.Width > plan.Resized.Width || c.Top+c.Height > plan.Resized.Height {
			t.Fatalf("crop %+v exceeds resized %+v", c, plan.Resized)
		}
		if c.Width <= 0 || c.Height <= 0 {
			t.Fatalf("empty crop %+v for %+v %+v %+v", c, src, target, roi)
		}
		if c.Width > target.Width || c.Height > target.Height {
			t.Fatalf("crop %+v larger than target %+v", c, target)
		}
		if plan.Resized.Width < target.Width || plan.Resized.Height < target.Height {
			t.Fatalf("resized %+v does not cover target %+v", plan.Resized, target)
		}
	}
}

func TestCropRegionOutsideFrame(t *testing.T) {
	src := types.Dimensions{Width: 100, Height: 100}
	target := types.Dimensions{Width: 50, Height: 50}

	for _, roi := range []types.Region{
		{Left: 500, Top: 500, Width: 10, Height: 10},
		{Left: 500, Top: 0, Width: 10, Height: 10},
		{Left: 0, Top: 200, Width: 10, Height: 10},
	} {
		_, err := AspectFill(src, target, roi)
		if !errors.Is(err, region.ErrDegenerateRegion) {
			t.Errorf("Expected ErrDegenerateRegion for %+v, got %v", roi, err)
		}
	}

	// Past the low edge the origin clamps to zero and the crop is still valid.
	plan, err := AspectFill(src, target, types.Region{Left: -500, Top: -500, Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("AspectFill failed: %v", err)
	}
	if plan.Crop != (types.CropPlan{Left: 0, Top: 0, Width: 50, Height: 50}) {
		t.Errorf("Expected crop at origin, got %+v", plan.Crop)
	}
}

func TestCheckSize(t *testing.T) {
	tr := New()
	if tr.MaxPixels() != DefaultMaxPixels {
		t.Errorf("Expected default cap %d, got %d", DefaultMaxPixels, tr.MaxPixels())
	}

	cases := []struct {
		name        string
		src, target types.Dimensions
		ok          bool
	}{
		{"normal", types.Dimensions{Width: 4000, Height: 3000}, types.Dimensions{Width: 1200, Height: 630}, true},
		{"huge target", types.Dimensions{Width: 10, Height: 10}, types.Dimensions{Width: 200000, Height: 200000}, false},
		{"huge target without source", types.Dimensions{}, types.Dimensions{Width: 200000, Height: 200000}, false},
		{"thin source blows up resize", types.Dimensions{Width: 1, Height: 10000}, types.Dimensions{Width: 100, Height: 100}, false},
		{"at the cap", types.Dimensions{Width: 8000, Height: 5000}, types.Dimensions{Width: 8000, Height: 5000}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := tr.CheckSize(c.src, c.target)
			if c.ok && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !c.ok && !errors.Is(err, ErrInvalidDimensions) {
				t.Errorf("Expected ErrInvalidDimensions, got %v", err)
			}
		})
	}
}

func TestPlanRejectsOversizedTarget(t *testing.T) {
	tr := NewWithConfig(Config{MaxPixels: 10_000})
	src := types.Dimensions{Width: 10, Height: 10}

	if _, err := tr.Plan(src, types.Dimensions{Width: 200, Height: 200}, types.FullFrame(src)); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := tr.Plan(src, types.Dimensions{Width: 100, Height: 100}, types.FullFrame(src)); err != nil {
		t.Errorf("Target at the cap should plan, got %v", err)
	}
}

func TestPlanPreCropRejectsOversizedResize(t *testing.T) {
	tr := NewWithConfig(Config{PreCrop: true, MaxPixels: 10_000})
	src := types.Dimensions{Width: 1000, Height: 1000}
	// A 3x100 extract covering a 100x100 target resizes to 100x3333.
	roi := types.Region{Left: 0, Top: 0, Width: 5, Height: 102}

	if _, err := tr.Plan(src, types.Dimensions{Width: 100, Height: 100}, roi); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
}

func TestPlanPreCrop(t *testing.T) {
	tr := NewWithConfig(Config{PreCrop: true})
	src := types.Dimensions{Width: 1000, Height: 1000}
	roi := types.Region{Left: 100, Top: 200, Width: 402, Height: 202}

	plan, err := tr.Plan(src, types.Dimensions{Width: 200, Height: 200}, roi)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.Extract == nil {
		t.Fatal("Expected an extract rectangle in pre-crop mode")
	}
	want := types.Region{Left: 100, Top: 200, Width: 400, Height: 200}
	if *plan.Extract != want {
		t.Errorf("Expected extract %+v, got %+v", want, *plan.Extract)
	}
	if plan.Source != (types.Dimensions{Width: 400, Height: 200}) {
		t.Errorf("Expected planning against the extracted raster, got %+v", plan.Source)
	}
	if plan.Resized != (types.Dimensions{Width: 400, Height: 200}) {
		t.Errorf("Expected resized 400x200, got %+v", plan.Resized)
	}
}

func TestPlanPreCropDegenerate(t *testing.T) {
	tr := NewWithConfig(Config{PreCrop: true})
	src := types.Dimensions{Width: 100, Height: 100}

	_, err := tr.Plan(src, types.Dimensions{Width: 50, Height: 50}, types.Region{Left: 10, Top: 10, Width: 2, Height: 40})
	if !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
}

func TestPlanWithoutPreCropKeepsFullFrameResize(t *testing.T) {
	tr := New()
	src := types.Dimensions{Width: 1000, Height: 500}
	plan, err := tr.Plan(src, types.Dimensions{Width: 300, Height: 300}, types.Region{Left: 400, Top: 100, Width: 200, Height: 200})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Extract != nil {
		t.Error("Expected no extract without pre-crop")
	}
	if plan.Source != src {
		t.Errorf("Expected source %+v, got %+v", src, plan.Source)
	}
}

func TestApply(t *testing.T) {
	tr := New()
	img := createTestImage(400, 200)
	src := types.Dimensions{Width: 400, Height: 200}

	plan, err := tr.Plan(src, types.Dimensions{Width: 100, Height: 100}, types.FullFrame(src))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	out, err := tr.Apply(img, plan)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	b := out.Bounds()
	if b.Dx() != plan.Crop.Width || b.Dy() != plan.Crop.Height {
		t.Errorf("Expected %dx%d, got %dx%d", plan.Crop.Width, plan.Crop.Height, b.Dx(), b.Dy())
	}

	// The full frame centers on the bright subject.
	r, g, bl, _ := out.At(b.Dx()/2, b.Dy()/2).RGBA()
	if r>>8 < 200 || g>>8 < 200 || bl>>8 < 200 {
		t.Errorf("Expected bright center pixel, got %d,%d,%d", r>>8, g>>8, bl>>8)
	}
}

func TestApplyPreCrop(t *testing.T) {
	tr := NewWithConfig(Config{PreCrop: true, Filter: "nearest"})
	img := createTestImage(300, 300)
	src := types.Dimensions{Width: 300, Height: 300}

	plan, err := tr.Plan(src, types.Dimensions{Width: 50, Height: 50}, types.Region{Left: 110, Top: 110, Width: 82, Height: 82})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	out, err := tr.Apply(img, plan)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Everything inside the extracted subject is white.
	r, _, _, _ := out.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("Expected white corner after pre-crop, got %d", r>>8)
	}
}

func TestApplyRejectsEmptyPlan(t *testing.T) {
	_, err := New().Apply(createTestImage(10, 10), Plan{})
	if !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
}

func TestFilterByName(t *testing.T) {
	if FilterByName("unknown").Support != FilterByName("lanczos").Support {
		t.Error("Unknown filter should fall back to Lanczos")
	}
	if FilterByName("NEAREST").Support != 0 {
		t.Error("Expected nearest neighbor filter")
	}
}

func BenchmarkAspectFill(b *testing.B) {
	src := types.Dimensions{Width: 4000, Height: 3000}
	target := types.Dimensions{Width: 1200, Height: 630}
	roi := types.Region{Left: 1200, Top: 900, Width: 800, Height: 600}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AspectFill(src, target, roi)
	}
}

func BenchmarkApply(b *testing.B) {
	tr := New()
	img := createTestImage(1920, 1080)
	src := types.Dimensions{Width: 1920, Height: 1080}
	plan, _ := tr.Plan(src, types.Dimensions{Width: 600, Height: 600}, types.FullFrame(src))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Apply(img, plan)
	}
}
