// Package productcrop resizes product images to an exact output size while
// keeping the product centered.
//
// A request names a source object and a destination path. The service
// fetches the source, localizes products with a vision backend, derives a
// region of interest, vetoes it when detected text straddles its border,
// fills the target size with a scale-and-center-crop, and uploads the result
// public-read next to the source.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	svc := productcrop.New(store, saliency.New(), productcrop.Options{Bucket: "shop-assets"})
//
//	resp := svc.Handle(ctx, productcrop.Request{
//		ImagePath: "https://shop-assets.s3.amazonaws.com/products/shoe.jpg",
//		S3Path:    "/crops/shoe_600x300.jpg",
//		NewWidth:  600,
//		NewHeight: 300,
//	})
//
// The decision stages live in their own packages:
//
//   - pkg/region: region of interest from detected objects
//   - pkg/textguard: text overlap veto
//   - pkg/cropper: aspect-fill scale and centered crop
//   - pkg/pipeline: the three stages in order
package productcrop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/product-crop/internal/log"
	"github.com/menta2k/product-crop/pkg/analyzer"
	"github.com/menta2k/product-crop/pkg/client"
	"github.com/menta2k/product-crop/pkg/cropper"
	"github.com/menta2k/product-crop/pkg/detection"
	"github.com/menta2k/product-crop/pkg/pipeline"
	"github.com/menta2k/product-crop/pkg/processing"
	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/storage"
	"github.com/menta2k/product-crop/pkg/textguard"
	"github.com/menta2k/product-crop/pkg/types"
)

// Version of the product cropper
const Version = "1.0.0"

// ErrInvalidRequest is returned for a request missing a source or destination.
var ErrInvalidRequest = errors.New("invalid request")

// Stage names the step that failed.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageDecode     Stage = "decode"
	StageLocalize   Stage = "localize"
	StageDetectText Stage = "detect_text"
	StageEncode     Stage = "encode"
	StageUpload     Stage = "upload"
)

// StageError is a collaborator failure tagged with its stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Request is one crop invocation.
type Request struct {
	ImagePath string `json:"image_path"`
	S3Path    string `json:"s3_path"`
	NewWidth  int    `json:"new_width"`
	NewHeight int    `json:"new_height"`
	// Asset, when present, is used as the region of interest and skips detection.
	Asset *types.Region `json:"asset,omitempty"`
}

// Target returns the requested output size.
func (r Request) Target() types.Dimensions {
	return types.Dimensions{Width: r.NewWidth, Height: r.NewHeight}
}

// Response is the invocation result. On failure only IsSuccess is set.
type Response struct {
	StatusCode    int    `json:"statusCode,omitempty"`
	IsSuccess     bool   `json:"isSuccess"`
	URL           string `json:"url,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	FileSize      string `json:"file_size,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// Failure is the response for any failed request.
func Failure() Response {
	return Response{IsSuccess: false}
}

// Options configures a Service.
type Options struct {
	// Bucket holds results, and sources whose URL does not name a bucket.
	Bucket    string
	Region    region.Config
	Detection detection.Config
	Transform cropper.Config
	Encoding  processing.Options
	// Analyzer limits accepted sources; the zero value uses analyzer defaults.
	Analyzer *analyzer.Config
}

// Service runs crop requests against an object store and a vision backend.
// It is safe for concurrent use.
type Service struct {
	bucket      string
	store       storage.Store
	inspector   *analyzer.ImageAnalyzer
	processor   *processing.Processor
	transformer *cropper.Transformer
	pipeline    *pipeline.Pipeline
	logger      *slog.Logger
}

// New wires a service from its collaborators.
func New(store storage.Store, vision client.VisionClient, opts Options) *Service {
	inspector := analyzer.New()
	if opts.Analyzer != nil {
		inspector = analyzer.NewWithConfig(*opts.Analyzer)
	}
	transformer := cropper.NewWithConfig(opts.Transform)

	return &Service{
		bucket:      opts.Bucket,
		store:       store,
		inspector:   inspector,
		processor:   processing.NewProcessorWithOptions(opts.Encoding),
		transformer: transformer,
		pipeline: pipeline.New(
			detection.NewDetectorWithConfig(vision, opts.Detection),
			region.NewWithConfig(opts.Region),
			textguard.New(),
			transformer,
		),
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger of the service and its pipeline.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.logger = logger
	s.pipeline.SetLogger(logger)
}

// Outcome is a finished crop before upload.
type Outcome struct {
	Decision pipeline.Decision
	Info     analyzer.ImageInfo
	Source   image.Image
	Output   *image.NRGBA
	// OutputInfo describes the encoded result.
	OutputInfo analyzer.ImageInfo
	Encoded    []byte
	// Format is the source format; the output is encoded the same way.
	Format string
}

// Crop runs the decision and the transform on encoded image bytes.
func (s *Service) Crop(ctx context.Context, data []byte, target types.Dimensions, asset *types.Region) (*Outcome, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target %dx%d", cropper.ErrInvalidDimensions, target.Width, target.Height)
	}
	if err := s.transformer.CheckSize(types.Dimensions{}, target); err != nil {
		return nil, err
	}

	info, err := s.inspector.Inspect(data)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	if err := s.transformer.CheckSize(info.Dimensions(), target); err != nil {
		return nil, err
	}
	img, format, err := s.processor.Decode(data)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}

	decision, err := s.pipeline.Run(ctx, pipeline.Input{
		Image:  data,
		Source: info.Dimensions(),
		Target: target,
		Asset:  asset,
	})
	if err != nil {
		return nil, stageOf(err)
	}

	out, err := s.transformer.Apply(img, decision.Plan)
	if err != nil {
		return nil, err
	}

	encoded, err := s.processor.Encode(out, format)
	if err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}

	outInfo := s.inspector.GetImageInfo(out)
	outInfo.Format = format
	outInfo.Size = len(encoded)

	return &Outcome{
		Decision:   decision,
		Info:       info,
		Source:     img,
		Output:     out,
		OutputInfo: outInfo,
		Encoded:    encoded,
		Format:     format,
	}, nil
}

// Process fetches the source, crops it and uploads the result.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	if req.ImagePath == "" || req.S3Path == "" {
		return Failure(), fmt.Errorf("%w: image_path and s3_path are required", ErrInvalidRequest)
	}
	if !req.Target().Valid() {
		return Failure(), fmt.Errorf("%w: target %dx%d", cropper.ErrInvalidDimensions, req.NewWidth, req.NewHeight)
	}
	if err := s.transformer.CheckSize(types.Dimensions{}, req.Target()); err != nil {
		return Failure(), err
	}

	src, err := storage.ParseSource(req.ImagePath, s.bucket)
	if err != nil {
		return Failure(), fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	destKey, err := storage.DestinationKey(req.S3Path)
	if err != nil {
		return Failure(), fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	logger := log.FromContext(ctx, s.logger)
	logger.Debug("fetching source", "bucket", src.Bucket, "key", src.Key)

	obj, err := s.store.Get(ctx, src.Bucket, src.Key)
	if err != nil {
		return Failure(), &StageError{Stage: StageFetch, Err: err}
	}

	outcome, err := s.Crop(ctx, obj.Data, req.Target(), req.Asset)
	if err != nil {
		return Failure(), err
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = processing.ContentType(outcome.Format)
	}

	put := storage.Object{Data: outcome.Encoded, ContentType: contentType}
	if err := s.store.Put(ctx, s.bucket, destKey, put, true); err != nil {
		return Failure(), &StageError{Stage: StageUpload, Err: err}
	}

	resp := Response{
		StatusCode:    200,
		IsSuccess:     true,
		URL:           s.store.PublicURL(s.bucket, destKey),
		Width:         outcome.OutputInfo.Width,
		Height:        outcome.OutputInfo.Height,
		FileSize:      processing.SizeMB(outcome.OutputInfo.Size),
		FileExtension: outcome.Format,
	}

	logger.Info("crop stored",
		"source", src.String(),
		"dest", s.bucket+"/"+destKey,
		"width", resp.Width,
		"height", resp.Height,
		"size_mb", resp.FileSize)
	return resp, nil
}

// Handle is Process with every error collapsed into Failure. The cause is
// logged with its stage.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	resp, err := s.Process(ctx, req)
	if err != nil {
		log.FromContext(ctx, s.logger).Error("crop failed",
			"stage", StageName(err),
			"image_path", req.ImagePath,
			"s3_path", req.S3Path,
			"error", err)
		return Failure()
	}
	return resp
}

// StageName reports the failed stage of err, or "request", "resolve" or
// "transform" for errors that are not collaborator failures.
func StageName(err error) string {
	var se *StageError
	switch {
	case errors.As(err, &se):
		return string(se.Stage)
	case errors.Is(err, ErrInvalidRequest):
		return "request"
	case errors.Is(err, region.ErrDegenerateRegion):
		return string(pipeline.StageResolve)
	default:
		return string(pipeline.StageTransform)
	}
}

// stageOf lifts pipeline collaborator failures into StageErrors.
func stageOf(err error) error {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Stage {
	case pipeline.StageLocalize:
		return &StageError{Stage: StageLocalize, Err: pe.Err}
	case pipeline.StageDetectText:
		return &StageError{Stage: StageDetectText, Err: pe.Err}
	default:
		return pe.Err
	}
}
