// Package pipeline sequences region resolution, the text guard and the
// aspect-fill transform into one crop decision.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/menta2k/product-crop/pkg/cropper"
	"github.com/menta2k/product-crop/pkg/detection"
	"github.com/menta2k/product-crop/pkg/region"
	"github.com/menta2k/product-crop/pkg/textguard"
	"github.com/menta2k/product-crop/pkg/types"
)

// Stage names a step of the pipeline for error reporting.
type Stage string

const (
	StageLocalize   Stage = "localize"
	StageResolve    Stage = "resolve"
	StageDetectText Stage = "detect_text"
	StageTransform  Stage = "transform"
)

// Error reports which stage failed.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Input is one crop request after the source has been fetched and inspected.
type Input struct {
	// Image is the encoded source, sent as-is to the vision service.
	Image  []byte
	Source types.Dimensions
	Target types.Dimensions
	// Asset, when set, skips detection entirely.
	Asset *types.Region
}

// Decision is the outcome of a run.
type Decision struct {
	Resolution region.Resolution
	Objects    []types.DetectedObject
	Texts      []types.DetectedText
	// TextChecked is false when the guard did not run.
	TextChecked bool
	Verdict     textguard.Verdict
	// Region is the final region the crop is centered on.
	Region types.Region
	Plan   cropper.Plan
}

// Pipeline is safe for concurrent use; runs share no mutable state.
type Pipeline struct {
	detector    *detection.Detector
	resolver    *region.Resolver
	guard       *textguard.Guard
	transformer *cropper.Transformer
	logger      *slog.Logger
}

// New wires a pipeline from its components.
func New(detector *detection.Detector, resolver *region.Resolver, guard *textguard.Guard, transformer *cropper.Transformer) *Pipeline {
	return &Pipeline{
		detector:    detector,
		resolver:    resolver,
		guard:       guard,
		transformer: transformer,
		logger:      slog.Default(),
	}
}

// SetLogger replaces the logger of the pipeline and its components.
func (p *Pipeline) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	p.logger = logger
	p.detector.SetLogger(logger)
	p.resolver.SetLogger(logger)
	p.guard.SetLogger(logger)
	p.transformer.SetLogger(logger)
}

// Run computes the crop decision. Object localization runs only without a
// caller asset, and text detection only when the region came from objects.
func (p *Pipeline) Run(ctx context.Context, in Input) (Decision, error) {
	var d Decision

	if in.Asset == nil {
		objects, err := p.detector.Objects(ctx, in.Image)
		if err != nil {
			return Decision{}, &Error{Stage: StageLocalize, Err: err}
		}
		d.Objects = objects
	}

	res, err := p.resolver.Resolve(in.Source, in.Asset, d.Objects)
	if err != nil {
		return Decision{}, &Error{Stage: StageResolve, Err: err}
	}
	d.Resolution = res
	d.Region = res.Region

	if res.ObjectDerived() {
		texts, err := p.detector.Text(ctx, in.Image)
		if err != nil {
			return Decision{}, &Error{Stage: StageDetectText, Err: err}
		}
		d.Texts = texts
		d.TextChecked = true
		d.Verdict = p.guard.Check(res.Region, texts, in.Source)
		d.Region = d.Verdict.Region
	}

	plan, err := p.transformer.Plan(in.Source, in.Target, d.Region)
	if err != nil {
		return Decision{}, &Error{Stage: StageTransform, Err: err}
	}
	d.Plan = plan

	p.logger.Info("crop decided",
		"source", in.Source,
		"target", in.Target,
		"region_source", res.Source.String(),
		"region", d.Region,
		"vetoed", d.Verdict.Vetoed,
		"scale", plan.Scale,
		"crop", plan.Crop)
	return d, nil
}
