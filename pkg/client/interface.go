package client

import (
	"context"

	"github.com/menta2k/product-crop/pkg/types"
)

// VisionClient is the remote vision service consumed by the pipeline.
type VisionClient interface {
	// LocalizeObjects returns detected objects with normalized vertices.
	LocalizeObjects(ctx context.Context, image []byte) ([]types.DetectedObject, error)
	// DetectText returns text boxes in pixel space; element 0 aggregates all text.
	DetectText(ctx context.Context, image []byte) ([]types.DetectedText, error)
}
