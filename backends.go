package productcrop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/menta2k/product-crop/internal/config"
	"github.com/menta2k/product-crop/pkg/client"
	"github.com/menta2k/product-crop/pkg/cropper"
	"github.com/menta2k/product-crop/pkg/detection"
	"github.com/menta2k/product-crop/pkg/gcv"
	"github.com/menta2k/product-crop/pkg/ollama"
	"github.com/menta2k/product-crop/pkg/processing"
	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/saliency"
	"github.com/menta2k/product-crop/pkg/storage"
)

// NewStore builds the configured object store.
func NewStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		s, err := storage.NewS3(ctx, storage.S3Config{
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			UsePathStyle:  cfg.UsePathStyle,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		s.SetLogger(logger)
		return s, nil
	case "local":
		return storage.NewLocal(cfg.LocalDir, cfg.PublicBaseURL), nil
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewVisionClient builds the configured vision backend.
func NewVisionClient(ctx context.Context, cfg config.VisionConfig, logger *slog.Logger) (client.VisionClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "gcv":
		c, err := gcv.New(ctx, gcv.Config{
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
			MaxObjects:      cfg.MaxObjects,
		})
		if err != nil {
			return nil, err
		}
		c.SetLogger(logger)
		return c, nil
	case "ollama":
		c, err := ollama.NewClient(ollama.Config{
			URL:      cfg.OllamaURL,
			Model:    cfg.Model,
			SendSize: cfg.SendSize,
		})
		if err != nil {
			return nil, err
		}
		c.SetLogger(logger)
		// The server may come up after us; an unreachable one is not fatal here.
		if err := c.Ping(ctx); err != nil {
			logger.Warn("ollama not reachable", "url", cfg.OllamaURL, "error", err)
		}
		return c, nil
	case "saliency":
		return saliency.New(), nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}

// OptionsFromConfig maps the file configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Bucket: cfg.Storage.Bucket,
		Region: region.Config{
			PaddingPx: cfg.Region.PaddingPx,
			Strategy:  region.Strategy(strings.ToLower(cfg.Region.Strategy)),
		},
		Detection: detection.Config{MinScore: cfg.Vision.MinScore},
		Transform: cropper.Config{
			PreCrop:   cfg.Transform.PreCrop,
			Filter:    cfg.Transform.Filter,
			MaxPixels: int64(cfg.Transform.MaxPixels),
		},
		Encoding: processing.Options{
			JPEGQuality:  cfg.Transform.JPEGQuality,
			WebPQuality:  cfg.Transform.WebPQuality,
			WebPLossless: cfg.Transform.WebPLossless,
		},
	}
}

// NewFromConfig validates cfg and builds a service with its backends.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	vision, err := NewVisionClient(ctx, cfg.Vision, logger)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}

	svc := New(store, vision, OptionsFromConfig(cfg))
	svc.SetLogger(logger)
	return svc, nil
}
