// Package gcv implements client.VisionClient on the Google Cloud Vision API.
package gcv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/menta2k/product-crop/internal/httpc"
	"github.com/menta2k/product-crop/pkg/types"
)

const (
	featureObjects = "OBJECT_LOCALIZATION"
	featureText    = "TEXT_DETECTION"
)

// ErrEmptyResponse is returned when the service answers without a result.
var ErrEmptyResponse = errors.New("vision: empty annotate response")

// Config configures the client.
type Config struct {
	// CredentialsFile is a service account JSON key. Empty uses Application
	// Default Credentials.
	CredentialsFile string
	// Endpoint overrides https://vision.googleapis.com/.
	Endpoint string
	// MaxObjects caps localized objects; 0 leaves the service default.
	MaxObjects int64
	// NoAuth sends unauthenticated requests, for emulators and tests.
	NoAuth bool
}

// Client talks to images:annotate.
type Client struct {
	svc        *vision.Service
	maxObjects int64
	logger     *slog.Logger
}

// New creates a Cloud Vision client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	// Request deadlines come from the caller's context.
	hc := httpc.NewClient(0)
	if cfg.NoAuth {
		opts = append(opts, option.WithHTTPClient(hc))
	} else {
		creds, err := credentials(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		// oauth2 uses the client in the context for token refreshes
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(tokenCtx, creds.TokenSource)))
	}

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision service: %w", err)
	}
	c := NewWithService(svc)
	c.SetMaxObjects(cfg.MaxObjects)
	return c, nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *vision.Service) *Client {
	return &Client{svc: svc, logger: slog.Default()}
}

// SetMaxObjects caps the number of localized objects per request.
func (c *Client) SetMaxObjects(n int64) {
	c.maxObjects = n
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func credentials(ctx context.Context, file string) (*google.Credentials, error) {
	if file == "" {
		creds, err := google.FindDefaultCredentials(ctx, vision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, vision.CloudVisionScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds, nil
}

// LocalizeObjects runs OBJECT_LOCALIZATION on the encoded image.
func (c *Client) LocalizeObjects(ctx context.Context, image []byte) ([]types.DetectedObject, error) {
	res, err := c.annotate(ctx, image, &vision.Feature{Type: featureObjects, MaxResults: c.maxObjects})
	if err != nil {
		return nil, err
	}

	objects := make([]types.DetectedObject, 0, len(res.LocalizedObjectAnnotations))
	for _, a := range res.LocalizedObjectAnnotations {
		if a == nil {
			continue
		}
		obj := types.DetectedObject{Name: a.Name, Score: a.Score}
		if a.BoundingPoly != nil {
			for i, v := range a.BoundingPoly.NormalizedVertices {
				if i >= len(obj.Vertices) {
					break
				}
				if v != nil {
					obj.Vertices[i] = types.NormPoint{X: v.X, Y: v.Y}
				}
			}
		}
		objects = append(objects, obj)
	}

	c.logger.Debug("objects localized", "count", len(objects))
	return objects, nil
}

// DetectText runs TEXT_DETECTION. The first annotation covers all text.
func (c *Client) DetectText(ctx context.Context, image []byte) ([]types.DetectedText, error) {
	res, err := c.annotate(ctx, image, &vision.Feature{Type: featureText})
	if err != nil {
		return nil, err
	}

	texts := make([]types.DetectedText, 0, len(res.TextAnnotations))
	for _, a := range res.TextAnnotations {
		if a == nil {
			continue
		}
		t := types.DetectedText{Description: a.Description}
		if a.BoundingPoly != nil {
			for i, v := range a.BoundingPoly.Vertices {
				if i >= len(t.Vertices) {
					break
				}
				if v != nil {
					t.Vertices[i] = types.Point{X: float64(v.X), Y: float64(v.Y)}
				}
			}
		}
		texts = append(texts, t)
	}

	c.logger.Debug("text detected", "count", len(texts))
	return texts, nil
}

func (c *Client) annotate(ctx context.Context, image []byte, feature *vision.Feature) (*vision.AnnotateImageResponse, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{feature},
		}},
	}

	batch, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("vision %s: %w", feature.Type, err)
	}
	if len(batch.Responses) == 0 || batch.Responses[0] == nil {
		return nil, fmt.Errorf("vision %s: %w", feature.Type, ErrEmptyResponse)
	}

	res := batch.Responses[0]
	if res.Error != nil && res.Error.Code != 0 {
		return nil, fmt.Errorf("vision %s: code %d: %s", feature.Type, res.Error.Code, res.Error.Message)
	}
	return res, nil
}
