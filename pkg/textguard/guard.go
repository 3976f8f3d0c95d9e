// Package textguard vetoes an object-derived region when detected text straddles its border.
package textguard

import (
	"log/slog"

	"github.com/menta2k/product-crop/pkg/geometry"
	"github.com/menta2k/product-crop/pkg/types"
)

// Relation classifies a text box against the region.
type Relation int

const (
	Separate Relation = iota
	Contained
	Overlapping
)

func (r Relation) String() string {
	switch r {
	case Contained:
		return "contained"
	case Overlapping:
		return "overlapping"
	default:
		return "separate"
	}
}

// Classify relates a text box to the region's quad.
func Classify(roi, text types.Quad) Relation {
	if geometry.Contains(roi, text) {
		return Contained
	}
	if geometry.Overlaps(roi, text) {
		return Overlapping
	}
	return Separate
}

// Verdict is the outcome of a guard check.
type Verdict struct {
	Region types.Region
	// Vetoed is true when the region was replaced by the full frame.
	Vetoed bool
	// VetoIndex is the index of the first overlapping text box, or -1.
	VetoIndex int
	Contained int
	Separate  int
}

// Guard applies the text overlap policy.
type Guard struct {
	logger *slog.Logger
}

// New creates a Guard.
func New() *Guard {
	return &Guard{logger: slog.Default()}
}

// SetLogger replaces the guard's logger.
func (g *Guard) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Check tests every text box except the leading aggregate against roi. The first
// box that overlaps without being contained replaces roi with the full frame.
func (g *Guard) Check(roi types.Region, texts []types.DetectedText, frame types.Dimensions) Verdict {
	v := Verdict{Region: roi, VetoIndex: -1}
	if len(texts) < 2 {
		g.logger.Debug("no individual text boxes", "texts", len(texts))
		return v
	}

	quad := roi.Quad()
	for i := 1; i < len(texts); i++ {
		switch Classify(quad, texts[i].Vertices) {
		case Contained:
			v.Contained++
		case Separate:
			v.Separate++
		case Overlapping:
			v.Region = types.FullFrame(frame)
			v.Vetoed = true
			v.VetoIndex = i
			g.logger.Info("text straddles region, using full frame",
				"index", i, "text", texts[i].Description, "region", roi)
			return v
		}
	}

	g.logger.Debug("text check passed", "contained", v.Contained, "separate", v.Separate)
	return v
}
