package compressor

import (
	"context"
	"time"
)

// Loop constants. The scale floor is the hard stop of the iteration loop:
// once the decaying scale factor drops to it, the smallest permitted image
// is returned even if the target size was not reached.
const (
	ScaleFloor = 0.1

	DefaultMinSizePercentage = 0.3
	DefaultScaleFactor       = 0.9
	DefaultSharpnessFactor   = 1.5
	DefaultContrastFactor    = 1.5
	DefaultBlurRadius        = 0.1
	DefaultDPI               = 300
	DefaultDecayRate         = 0.9
	DefaultMaxIterations     = 64
)

// Params defines parameters for one TIFF compression request.
type Params struct {
	InputPath  string
	OutputPath string

	// TargetSizeKB is the stopping threshold for the encoded output size.
	TargetSizeKB int
	// MinSizePercentage is the floor on output dimensions relative to the
	// original image, in (0.1, 1.0].
	MinSizePercentage float64
	// ScaleFactor is the initial multiplicative shrink ratio, in (0.1, 1.0].
	ScaleFactor float64
	// SharpnessFactor and ContrastFactor are enhancement strengths in
	// (0.1, 3.0], where 1.0 is neutral.
	SharpnessFactor float64
	ContrastFactor  float64
	// BlurRadius is the Gaussian denoising radius in [0.0, 2.0]; 0 disables.
	BlurRadius float64
	// DPI is the resolution tag written into the output.
	DPI int

	// DecayRate shrinks the scale factor after every failed size check.
	DecayRate float64
	// MaxIterations bounds the loop regardless of decay progress.
	MaxIterations int

	// Progress, when set, is invoked after every iteration.
	Progress ProgressFunc
}

// Progress describes the loop state after a single iteration.
type Progress struct {
	Iteration int
	Width     int
	Height    int
	Scale     float64
	SizeKB    float64
}

// ProgressFunc observes iterations of the compression loop.
type ProgressFunc func(Progress)

// Result describes the outcome of compressing a single file.
type Result struct {
	InputPath  string
	OutputPath string

	OriginalSize   int64
	CompressedSize int64
	OriginalWidth  int
	OriginalHeight int
	FinalWidth     int
	FinalHeight    int

	Iterations int
	FinalScale float64
	// TargetMet is false when the loop stopped on the scale floor or the
	// iteration budget with the output still above TargetSizeKB.
	TargetMet       bool
	TagsStripped    int
	PercentageSaved float64

	Success    bool
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SizeKB returns the compressed size in kilobytes.
func (r Result) SizeKB() float64 {
	return float64(r.CompressedSize) / 1024.0
}

// Compressor defines the interface for size-targeting TIFF compression.
type Compressor interface {
	// Compress runs the iterative compression loop for a single file and
	// returns the final artifact description.
	Compress(ctx context.Context, params Params) (Result, error)
}

// ApplyDefaults fills unset tuning parameters with their documented defaults.
// TargetSizeKB and the paths have no default and stay untouched. BlurRadius
// is also left as set: zero is a meaningful value (blur disabled) and cannot
// be told apart from unset here, so its DefaultBlurRadius is applied by the
// configuration layer instead.
func (p *Params) ApplyDefaults() {
	if p.MinSizePercentage == 0 {
		p.MinSizePercentage = DefaultMinSizePercentage
	}
	if p.ScaleFactor == 0 {
		p.ScaleFactor = DefaultScaleFactor
	}
	if p.SharpnessFactor == 0 {
		p.SharpnessFactor = DefaultSharpnessFactor
	}
	if p.ContrastFactor == 0 {
		p.ContrastFactor = DefaultContrastFactor
	}
	if p.DPI == 0 {
		p.DPI = DefaultDPI
	}
	if p.DecayRate == 0 {
		p.DecayRate = DefaultDecayRate
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultMaxIterations
	}
}

// Validate checks every numeric parameter against its declared range.
// It returns an *InvalidParameterError for the first violation found.
func (p Params) Validate() error {
	if p.TargetSizeKB <= 0 {
		return invalidParam("target_size_kb", float64(p.TargetSizeKB), "must be greater than 0")
	}
	if p.MinSizePercentage <= 0.1 || p.MinSizePercentage > 1.0 {
		return invalidParam("min_size_percentage", p.MinSizePercentage, "must be in (0.1, 1.0]")
	}
	if p.ScaleFactor <= 0.1 || p.ScaleFactor > 1.0 {
		return invalidParam("scale_factor", p.ScaleFactor, "must be in (0.1, 1.0]")
	}
	if p.SharpnessFactor <= 0.1 || p.SharpnessFactor > 3.0 {
		return invalidParam("sharpness_factor", p.SharpnessFactor, "must be in (0.1, 3.0]")
	}
	if p.ContrastFactor <= 0.1 || p.ContrastFactor > 3.0 {
		return invalidParam("contrast_factor", p.ContrastFactor, "must be in (0.1, 3.0]")
	}
	if p.BlurRadius < 0 || p.BlurRadius > 2.0 {
		return invalidParam("blur_radius", p.BlurRadius, "must be in [0.0, 2.0]")
	}
	if p.DPI <= 0 {
		return invalidParam("dpi", float64(p.DPI), "must be greater than 0")
	}
	if p.DecayRate <= 0 || p.DecayRate >= 1.0 {
		return invalidParam("decay_rate", p.DecayRate, "must be in (0, 1)")
	}
	if p.MaxIterations <= 0 {
		return invalidParam("max_iterations", float64(p.MaxIterations), "must be greater than 0")
	}
	return nil
}
