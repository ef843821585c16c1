package config

import (
	"testing"

	"tiff-squeeze-go/internal/compressor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadCompressionDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compression.ScaleFactor = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Compression.MinSizePercentage = 0.05
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}

func TestValidateNormalizesZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxUploadMB = 0
	cfg.Server.RequestTimeout = 0
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(256), cfg.Server.MaxUploadMB)
	assert.Greater(t, cfg.Server.RequestTimeout.Seconds(), 0.0)
}

func TestCompressionParamsCarriesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	params := cfg.CompressionParams()

	assert.Equal(t, compressor.DefaultScaleFactor, params.ScaleFactor)
	assert.Equal(t, compressor.DefaultDecayRate, params.DecayRate)
	assert.Equal(t, compressor.DefaultDPI, params.DPI)
	assert.Zero(t, params.TargetSizeKB)
	assert.Empty(t, params.InputPath)
}

func TestMaxUploadBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxUploadMB = 2
	assert.Equal(t, int64(2<<20), cfg.MaxUploadBytes())
}
