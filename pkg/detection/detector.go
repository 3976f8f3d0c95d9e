package detection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/menta2k/product-crop/pkg/client"
	"github.com/menta2k/product-crop/pkg/types"
)

// Config controls post-processing of vision results
type Config struct {
	// MinScore drops objects below this confidence. Zero keeps everything.
	MinScore float64
}

// Detector runs the vision calls and cleans their results
type Detector struct {
	client client.VisionClient
	config Config
	logger *slog.Logger
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient) *Detector {
	return NewDetectorWithConfig(client, Config{})
}

// NewDetectorWithConfig creates a detector with custom post-processing
func NewDetectorWithConfig(client client.VisionClient, config Config) *Detector {
	return &Detector{client: client, config: config, logger: slog.Default()}
}

// SetLogger replaces the detector's logger
func (d *Detector) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Objects localizes objects in the encoded image
func (d *Detector) Objects(ctx context.Context, image []byte) ([]types.DetectedObject, error) {
	raw, err := d.client.LocalizeObjects(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("object localization: %w", err)
	}

	objects := make([]types.DetectedObject, 0, len(raw))
	for _, obj := range raw {
		if obj.Score < d.config.MinScore {
			d.logger.Debug("object below min score", "name", obj.Name, "score", obj.Score)
			continue
		}
		obj.Name = strings.TrimSpace(obj.Name)
		obj.Vertices = normalizeQuad(obj.Vertices)
		objects = append(objects, obj)
	}

	d.logger.Info("objects localized", "count", len(objects), "dropped", len(raw)-len(objects))
	for i, obj := range objects {
		d.logger.Debug("object", "index", i, "name", obj.Name, "score", obj.Score)
	}
	return objects, nil
}

// Text detects text in the encoded image
func (d *Detector) Text(ctx context.Context, image []byte) ([]types.DetectedText, error) {
	texts, err := d.client.DetectText(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("text detection: %w", err)
	}
	d.logger.Info("text detected", "count", len(texts))
	return texts, nil
}

// normalizeQuad clamps normalized vertices into [0,1]
func normalizeQuad(q types.NormQuad) types.NormQuad {
	for i := range q {
		q[i].X = clamp(q[i].X, 0, 1)
		q[i].Y = clamp(q[i].Y, 0, 1)
	}
	return q
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
