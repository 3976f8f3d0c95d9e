package productcrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/menta2k/product-crop/internal/log"
	"github.com/menta2k/product-crop/pkg/cropper"
	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/storage"
	"github.com/menta2k/product-crop/pkg/types"
)

const bucket = "shop"

// createTestImage creates a gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(width, height)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

type fakeVision struct {
	objects    []types.DetectedObject
	texts      []types.DetectedText
	objectErr  error
	textErr    error
	objectCall int
	textCall   int
}

func (f *fakeVision) LocalizeObjects(ctx context.Context, image []byte) ([]types.DetectedObject, error) {
	f.objectCall++
	return f.objects, f.objectErr
}

func (f *fakeVision) DetectText(ctx context.Context, image []byte) ([]types.DetectedText, error) {
	f.textCall++
	return f.texts, f.textErr
}

type failingPut struct {
	*storage.MemoryStore
}

func (f failingPut) Put(ctx context.Context, bucket, key string, obj storage.Object, publicRead bool) error {
	return errors.New("access denied")
}

func newService(t *testing.T, store storage.Store, fv *fakeVision) *Service {
	t.Helper()
	svc := New(store, fv, Options{Bucket: bucket})
	svc.SetLogger(log.Discard())
	return svc
}

func seed(t *testing.T, store *storage.MemoryStore, b, key string, data []byte, contentType string) {
	t.Helper()
	if err := store.Put(context.Background(), b, key, storage.Object{Data: data, ContentType: contentType}, false); err != nil {
		t.Fatal(err)
	}
}

func request(w, h int) Request {
	return Request{
		ImagePath: "https://cdn.example.com/products/shoe.png",
		S3Path:    "/crops/shoe.png",
		NewWidth:  w,
		NewHeight: h,
	}
}

func TestProcessFullFrame(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, bucket, "products/shoe.png", encodePNG(t, 1000, 500), "image/png")
	fv := &fakeVision{}

	resp, err := newService(t, store, fv).Process(context.Background(), request(300, 300))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := Response{
		StatusCode:    200,
		IsSuccess:     true,
		URL:           "https://shop.s3.amazonaws.com/crops/shoe.png",
		Width:         300,
		Height:        300,
		FileExtension: "png",
	}
	got := resp
	got.FileSize = ""
	if got != want {
		t.Errorf("got %+v, want %+v", resp, want)
	}
	if resp.FileSize == "" {
		t.Error("Expected file size")
	}
	if fv.objectCall != 1 || fv.textCall != 0 {
		t.Errorf("Expected one localize call and no text call, got %d/%d", fv.objectCall, fv.textCall)
	}

	obj, err := store.Get(context.Background(), bucket, "crops/shoe.png")
	if err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if obj.ContentType != "image/png" || !store.IsPublic(bucket, "crops/shoe.png") {
		t.Errorf("Expected public image/png object, got %q public=%v", obj.ContentType, store.IsPublic(bucket, "crops/shoe.png"))
	}
	img, err := png.Decode(bytes.NewReader(obj.Data))
	if err != nil {
		t.Fatalf("stored result is not a png: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 300 {
		t.Errorf("Expected 300x300, got %v", img.Bounds())
	}
}

func TestCropPlanFullFrame(t *testing.T) {
	svc := newService(t, storage.NewMemory(), &fakeVision{})

	out, err := svc.Crop(context.Background(), encodePNG(t, 1000, 500), types.Dimensions{Width: 300, Height: 300}, nil)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	// scale 0.6 -> 600x300; center round(998*0.6/2) = 299
	if out.Decision.Plan.Crop != (types.CropPlan{Left: 149, Top: 0, Width: 300, Height: 300}) {
		t.Errorf("Unexpected crop %+v", out.Decision.Plan.Crop)
	}
	if out.Format != "png" || out.Info.Width != 1000 {
		t.Errorf("Unexpected outcome %+v", out.Info)
	}
	oi := out.OutputInfo
	if oi.Width != 300 || oi.Height != 300 || oi.AspectRatio != 1 || oi.Size != len(out.Encoded) || oi.Format != "png" {
		t.Errorf("Unexpected output info %+v", oi)
	}
}

func TestProcessAssetSkipsVision(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, bucket, "products/shoe.png", encodePNG(t, 1000, 500), "image/png")
	fv := &fakeVision{}

	req := request(300, 300)
	req.Asset = &types.Region{Left: 800, Top: 100, Width: 150, Height: 200}
	resp, err := newService(t, store, fv).Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if fv.objectCall != 0 || fv.textCall != 0 {
		t.Errorf("Expected no vision calls, got %d/%d", fv.objectCall, fv.textCall)
	}
	// center x round(480 + 44.4) = 524; origin 374 leaves 226 of the 600 wide raster
	if resp.Width != 226 || resp.Height != 300 {
		t.Errorf("Expected 226x300, got %dx%d", resp.Width, resp.Height)
	}
}

func TestProcessTextVeto(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, bucket, "products/shoe.png", encodePNG(t, 1000, 500), "image/png")
	fv := &fakeVision{
		objects: []types.DetectedObject{{Name: "Shoe", Score: 0.9, Vertices: types.NormQuad{
			{X: 0.7, Y: 0.2}, {X: 0.9, Y: 0.2}, {X: 0.9, Y: 0.8}, {X: 0.7, Y: 0.8},
		}}},
		texts: []types.DetectedText{
			{Description: "all", Vertices: types.Region{Width: 1000, Height: 500}.Quad()},
			{Description: "SALE", Vertices: types.Region{Left: 650, Top: 200, Width: 100, Height: 30}.Quad()},
		},
	}

	svc := newService(t, store, fv)
	out, err := svc.Crop(context.Background(), encodePNG(t, 1000, 500), types.Dimensions{Width: 300, Height: 300}, nil)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if !out.Decision.Verdict.Vetoed || out.Decision.Region != types.FullFrame(types.Dimensions{Width: 1000, Height: 500}) {
		t.Errorf("Expected veto to full frame, got %+v", out.Decision.Verdict)
	}
	if out.Decision.Plan.Crop.Left != 149 {
		t.Errorf("Expected full-frame crop, got %+v", out.Decision.Plan.Crop)
	}
}

func TestProcessSourceBucketFromHost(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, "raw-uploads", "in/shoe.png", encodePNG(t, 200, 200), "image/png")

	req := request(100, 100)
	req.ImagePath = "https://raw-uploads.s3.amazonaws.com/in/shoe.png"
	if _, err := newService(t, store, &fakeVision{}).Process(context.Background(), req); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if _, err := store.Get(context.Background(), bucket, "crops/shoe.png"); err != nil {
		t.Errorf("Expected result in the configured bucket: %v", err)
	}
}

func TestProcessKeepsSourceFormat(t *testing.T) {
	store := storage.NewMemory()
	var buf bytes.Buffer
	jpeg.Encode(&buf, createTestImage(400, 300), nil)
	seed(t, store, bucket, "products/shoe.jpg", buf.Bytes(), "")

	req := request(200, 200)
	req.ImagePath = "/products/shoe.jpg"
	req.S3Path = "/crops/shoe.jpg"
	resp, err := newService(t, store, &fakeVision{}).Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.FileExtension != "jpeg" {
		t.Errorf("Expected jpeg, got %s", resp.FileExtension)
	}
	obj, _ := store.Get(context.Background(), bucket, "crops/shoe.jpg")
	if obj.ContentType != "image/jpeg" {
		t.Errorf("Expected content type from format, got %q", obj.ContentType)
	}
}

func TestProcessFailures(t *testing.T) {
	boom := errors.New("vision down")
	good := encodePNG(t, 200, 200)

	tests := []struct {
		name   string
		data   []byte
		store  func(*storage.MemoryStore) storage.Store
		vision *fakeVision
		req    Request
		stage  string
		target error
	}{
		{name: "missing source", req: request(100, 100), stage: "fetch", target: storage.ErrNotFound},
		{name: "garbage source", data: []byte("not an image"), req: request(100, 100), stage: "decode"},
		{name: "localize", data: good, vision: &fakeVision{objectErr: boom}, req: request(100, 100), stage: "localize", target: boom},
		{
			name: "detect text",
			data: good,
			vision: &fakeVision{
				objects: []types.DetectedObject{{Vertices: types.NormQuad{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.1}, {X: 0.5, Y: 0.5}, {X: 0.1, Y: 0.5}}}},
				textErr: boom,
			},
			req:    request(100, 100),
			stage:  "detect_text",
			target: boom,
		},
		{name: "upload", data: good, store: func(m *storage.MemoryStore) storage.Store { return failingPut{m} }, req: request(100, 100), stage: "upload"},
		{name: "zero target", data: good, req: request(0, 100), stage: "transform", target: cropper.ErrInvalidDimensions},
		{name: "no destination", data: good, req: Request{ImagePath: "/products/shoe.png", NewWidth: 1, NewHeight: 1}, stage: "request", target: ErrInvalidRequest},
		{name: "no key", data: good, req: Request{ImagePath: "https://cdn.example.com/", S3Path: "/x.png", NewWidth: 1, NewHeight: 1}, stage: "request", target: ErrInvalidRequest},
		{
			name:   "asset outside frame",
			data:   good,
			req:    Request{ImagePath: "/products/shoe.png", S3Path: "/x.png", NewWidth: 50, NewHeight: 50, Asset: &types.Region{Left: 500, Top: 500, Width: 10, Height: 10}},
			stage:  "resolve",
			target: region.ErrDegenerateRegion,
		},
		// No source is seeded: the size check must run before the fetch.
		{name: "oversized target", req: request(200000, 200000), stage: "transform", target: cropper.ErrInvalidDimensions},
		{
			name:   "oversized resize",
			data:   encodePNG(t, 1, 400),
			req:    request(5000, 5000),
			stage:  "transform",
			target: cropper.ErrInvalidDimensions,
		},
		{
			name:   "empty asset",
			data:   good,
			req:    Request{ImagePath: "/products/shoe.png", S3Path: "/x.png", NewWidth: 10, NewHeight: 10, Asset: &types.Region{Left: 5, Top: 5}},
			stage:  "resolve",
			target: region.ErrDegenerateRegion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemory()
			if tt.data != nil {
				seed(t, mem, bucket, "products/shoe.png", tt.data, "image/png")
			}
			var store storage.Store = mem
			if tt.store != nil {
				store = tt.store(mem)
			}
			fv := tt.vision
			if fv == nil {
				fv = &fakeVision{}
			}
			svc := newService(t, store, fv)

			resp, err := svc.Process(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Expected error")
			}
			if resp.IsSuccess {
				t.Error("Failed response must not report success")
			}
			if got := StageName(err); got != tt.stage {
				t.Errorf("Expected stage %s, got %s (%v)", tt.stage, got, err)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Expected %v in chain, got %v", tt.target, err)
			}

			if h := svc.Handle(context.Background(), tt.req); h != Failure() {
				t.Errorf("Handle should collapse to failure, got %+v", h)
			}
		})
	}
}

func TestResponseJSON(t *testing.T) {
	data, err := json.Marshal(Failure())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"isSuccess":false}` {
		t.Errorf("Unexpected failure body %s", data)
	}

	data, _ = json.Marshal(Response{StatusCode: 200, IsSuccess: true, URL: "u", Width: 1, Height: 2, FileSize: "0.00", FileExtension: "png"})
	want := `{"statusCode":200,"isSuccess":true,"url":"u","width":1,"height":2,"file_size":"0.00","file_extension":"png"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestRequestJSON(t *testing.T) {
	var req Request
	body := `{"image_path":"https://a.s3.amazonaws.com/k.jpg","s3_path":"/out.jpg","new_width":640,"new_height":480,"asset":{"left":1,"top":2,"width":3,"height":4}}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatal(err)
	}
	if req.NewWidth != 640 || req.Asset == nil || *req.Asset != (types.Region{Left: 1, Top: 2, Width: 3, Height: 4}) {
		t.Errorf("Unexpected request %+v", req)
	}
}
