package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	productcrop "github.com/menta2k/product-crop"
	"github.com/menta2k/product-crop/internal/config"
	"github.com/menta2k/product-crop/internal/log"
	"github.com/menta2k/product-crop/internal/utils"
	"github.com/menta2k/product-crop/pkg/processing"
	"github.com/menta2k/product-crop/pkg/storage"
	"github.com/menta2k/product-crop/pkg/types"
)

func main() {
	var (
		configPath, saveConfig     string
		requestFile                string
		imagePath, dest            string
		in, outDir                 string
		width, height              int
		asset                      string
		visionBackend, storageKind string
		bucket                     string
		debug, showVersion         bool
	)

	flag.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective config to this path and exit")
	flag.StringVar(&requestFile, "request", "", "JSON request file ({image_path, s3_path, new_width, new_height, asset?})")
	flag.StringVar(&imagePath, "image", "", "source image URL or key")
	flag.StringVar(&dest, "dest", "", "destination path, e.g. /crops/shoe_600x300.jpg")
	flag.StringVar(&in, "in", "", "local input file; crops offline without the object store")
	flag.StringVar(&outDir, "out", "out", "output directory for -in")
	flag.IntVar(&width, "width", 0, "output width")
	flag.IntVar(&height, "height", 0, "output height")
	flag.StringVar(&asset, "asset", "", "region of interest as left,top,width,height; skips detection")
	flag.StringVar(&visionBackend, "vision", "", "vision backend: gcv|ollama|saliency")
	flag.StringVar(&storageKind, "storage", "", "object store: s3|local|memory")
	flag.StringVar(&bucket, "bucket", "", "bucket for results and bare source keys")
	flag.BoolVar(&debug, "debug", false, "with -in, also write an overlay of region, text and crop")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("productcrop", productcrop.Version)
		return
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if visionBackend != "" {
		cfg.Vision.Backend = visionBackend
	}
	if storageKind != "" {
		cfg.Storage.Backend = storageKind
	}
	if bucket != "" {
		cfg.Storage.Bucket = bucket
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			fatal(err)
		}
		logger.Info("config written", "path", saveConfig)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	region, err := parseAsset(asset)
	if err != nil {
		fatal(err)
	}

	if in != "" {
		if err := cropLocal(ctx, cfg, in, outDir, types.Dimensions{Width: width, Height: height}, region, debug); err != nil {
			fatal(err)
		}
		return
	}

	req := productcrop.Request{ImagePath: imagePath, S3Path: dest, NewWidth: width, NewHeight: height, Asset: region}
	if requestFile != "" {
		data, err := os.ReadFile(requestFile)
		if err != nil {
			fatal(err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			fatal(fmt.Errorf("failed to parse request: %w", err))
		}
	}
	if req.ImagePath == "" || req.S3Path == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -image URL -dest /path -width W -height H | -request req.json | -in file -width W -height H\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	svc, err := productcrop.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		fatal(err)
	}

	resp := svc.Handle(ctx, req)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(resp)
	if !resp.IsSuccess {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cropLocal crops a file on disk and writes the result (and overlay) to outDir.
func cropLocal(ctx context.Context, cfg *config.Config, in, outDir string, target types.Dimensions, asset *types.Region, debug bool) error {
	if !utils.IsImageFile(in) {
		return fmt.Errorf("%s is not an image file", in)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return err
	}

	vision, err := productcrop.NewVisionClient(ctx, cfg.Vision, log.L())
	if err != nil {
		return err
	}
	svc := productcrop.New(storage.NewMemory(), vision, productcrop.OptionsFromConfig(cfg))
	svc.SetLogger(log.L())

	outcome, err := svc.Crop(ctx, data, target, asset)
	if err != nil {
		return fmt.Errorf("%s: %w", productcrop.StageName(err), err)
	}

	suffix := fmt.Sprintf("_%dx%d", target.Width, target.Height)
	outPath := utils.GenerateOutputFilename(in, outDir, "", suffix, extension(outcome.Format))
	if err := os.WriteFile(outPath, outcome.Encoded, 0644); err != nil {
		return err
	}

	b := outcome.Output.Bounds()
	d := outcome.Decision
	log.L().Info("crop written",
		"path", outPath,
		"width", b.Dx(),
		"height", b.Dy(),
		"size", utils.FormatFileSize(int64(len(outcome.Encoded))),
		"region_source", d.Resolution.Source.String(),
		"vetoed", d.Verdict.Vetoed)

	if debug {
		p := processing.NewProcessor()
		overlay := p.CreateDebugOverlay(outcome.Source, d.Region, d.Objects, d.Texts, d.Plan)
		enc, err := p.Encode(overlay, "png")
		if err != nil {
			return err
		}
		dbgPath := utils.GenerateOutputFilename(in, outDir, "", suffix+"_debug", "png")
		if err := os.WriteFile(dbgPath, enc, 0644); err != nil {
			return err
		}
		log.L().Info("debug overlay written", "path", dbgPath)
	}
	return nil
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

func parseAsset(s string) (*types.Region, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("asset must be left,top,width,height: %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
		v[i] = n
	}
	return &types.Region{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}, nil
}

func fatal(err error) {
	log.L().Error("productcrop failed", "error", err)
	os.Exit(1)
}
