package compressor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	p := Params{TargetSizeKB: 50}
	p.ApplyDefaults()
	return p
}

func TestApplyDefaults(t *testing.T) {
	var p Params
	p.ApplyDefaults()

	assert.Equal(t, DefaultMinSizePercentage, p.MinSizePercentage)
	assert.Equal(t, DefaultScaleFactor, p.ScaleFactor)
	assert.Equal(t, DefaultSharpnessFactor, p.SharpnessFactor)
	assert.Equal(t, DefaultContrastFactor, p.ContrastFactor)
	assert.Equal(t, DefaultDPI, p.DPI)
	assert.Equal(t, DefaultDecayRate, p.DecayRate)
	assert.Equal(t, DefaultMaxIterations, p.MaxIterations)
	// Zero disables blur, so it is never defaulted here.
	assert.Zero(t, p.BlurRadius)

	// Explicit values survive.
	p = Params{ScaleFactor: 0.5, DPI: 600}
	p.ApplyDefaults()
	assert.Equal(t, 0.5, p.ScaleFactor)
	assert.Equal(t, 600, p.DPI)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validParams().Validate())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"target_size_kb", func(p *Params) { p.TargetSizeKB = 0 }},
		{"target_size_kb", func(p *Params) { p.TargetSizeKB = -5 }},
		{"min_size_percentage", func(p *Params) { p.MinSizePercentage = 0.05 }},
		{"min_size_percentage", func(p *Params) { p.MinSizePercentage = 1.2 }},
		{"scale_factor", func(p *Params) { p.ScaleFactor = 0.1 }},
		{"scale_factor", func(p *Params) { p.ScaleFactor = 1.5 }},
		{"sharpness_factor", func(p *Params) { p.SharpnessFactor = 3.5 }},
		{"contrast_factor", func(p *Params) { p.ContrastFactor = 0.05 }},
		{"blur_radius", func(p *Params) { p.BlurRadius = -0.1 }},
		{"blur_radius", func(p *Params) { p.BlurRadius = 2.5 }},
		{"dpi", func(p *Params) { p.DPI = -300 }},
		{"decay_rate", func(p *Params) { p.DecayRate = 1.0 }},
		{"max_iterations", func(p *Params) { p.MaxIterations = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			err := p.Validate()
			require.Error(t, err)

			var invalid *InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.name, invalid.Name)
		})
	}
}

func TestValidateBoundaryValues(t *testing.T) {
	p := validParams()
	p.MinSizePercentage = 1.0
	p.ScaleFactor = 1.0
	p.SharpnessFactor = 3.0
	p.ContrastFactor = 3.0
	p.BlurRadius = 0.0
	assert.NoError(t, p.Validate())

	p.BlurRadius = 2.0
	assert.NoError(t, p.Validate())
}
