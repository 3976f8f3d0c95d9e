package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	productcrop "github.com/menta2k/product-crop"
	"github.com/menta2k/product-crop/internal/log"
	"github.com/menta2k/product-crop/pkg/saliency"
	"github.com/menta2k/product-crop/pkg/storage"
)

type stubProcessor struct {
	resp productcrop.Response
	err  error
	got  productcrop.Request
}

func (p *stubProcessor) Process(ctx context.Context, req productcrop.Request) (productcrop.Response, error) {
	p.got = req
	return p.resp, p.err
}

func post(t *testing.T, s *Server, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/crop", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestCropSuccess(t *testing.T) {
	proc := &stubProcessor{resp: productcrop.Response{StatusCode: 200, IsSuccess: true, URL: "u", Width: 3, Height: 4, FileSize: "0.01", FileExtension: "png"}}
	s := New(":0", proc, log.Discard())

	resp, body := post(t, s, `{"image_path":"/a.png","s3_path":"/b.png","new_width":3,"new_height":4,"asset":{"left":1,"top":1,"width":2,"height":2}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	var got productcrop.Response
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got != proc.resp {
		t.Errorf("got %+v, want %+v", got, proc.resp)
	}
	if proc.got.NewWidth != 3 || proc.got.Asset == nil || proc.got.Asset.Width != 2 {
		t.Errorf("Request not passed through: %+v", proc.got)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}
}

func TestCropFailureCollapses(t *testing.T) {
	proc := &stubProcessor{err: &productcrop.StageError{Stage: productcrop.StageFetch, Err: errors.New("no such key")}}
	s := New(":0", proc, log.Discard())

	resp, body := post(t, s, `{"image_path":"/a.png","s3_path":"/b.png","new_width":3,"new_height":4}`, map[string]string{RequestIDHeader: "req-1"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", resp.StatusCode)
	}
	if body != `{"isSuccess":false}` {
		t.Errorf("Unexpected body %s", body)
	}
	if resp.Header.Get(RequestIDHeader) != "req-1" {
		t.Errorf("Expected request id echoed, got %q", resp.Header.Get(RequestIDHeader))
	}
}

func TestCropBadBody(t *testing.T) {
	s := New(":0", &stubProcessor{}, log.Discard())

	resp, body := post(t, s, `{"image_path":`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if body != `{"isSuccess":false}` {
		t.Errorf("Unexpected body %s", body)
	}
}

func TestHealth(t *testing.T) {
	s := New(":0", &stubProcessor{}, log.Discard())

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestCropEndToEnd(t *testing.T) {
	store := storage.NewMemory()
	var buf bytes.Buffer
	png.Encode(&buf, image.NewGray(image.Rect(0, 0, 120, 80)))
	store.Put(context.Background(), "shop", "in/a.png", storage.Object{Data: buf.Bytes(), ContentType: "image/png"}, false)

	svc := productcrop.New(store, saliency.New(), productcrop.Options{Bucket: "shop"})
	svc.SetLogger(log.Discard())
	s := New(":0", svc, log.Discard())

	resp, body := post(t, s, `{"image_path":"https://shop.s3.amazonaws.com/in/a.png","s3_path":"/out/a.png","new_width":60,"new_height":60}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	var got productcrop.Response
	json.Unmarshal([]byte(body), &got)
	if !got.IsSuccess || got.Width != 60 || got.Height != 60 || got.URL != "https://shop.s3.amazonaws.com/out/a.png" {
		t.Errorf("Unexpected response %+v", got)
	}
	if !store.IsPublic("shop", "out/a.png") {
		t.Error("Expected public-read result")
	}
}

func TestCropOversizedTarget(t *testing.T) {
	store := storage.NewMemory()
	svc := productcrop.New(store, saliency.New(), productcrop.Options{Bucket: "shop"})
	svc.SetLogger(log.Discard())
	s := New(":0", svc, log.Discard())

	resp, body := post(t, s, `{"image_path":"https://shop.s3.amazonaws.com/in/a.png","s3_path":"/out/a.png","new_width":200000,"new_height":200000}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", resp.StatusCode, body)
	}

	var got productcrop.Response
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("invalid body %q: %v", body, err)
	}
	if got.IsSuccess {
		t.Error("Oversized target must fail")
	}
	if store.Len() != 0 {
		t.Errorf("Nothing should be stored, got %d objects", store.Len())
	}
}
