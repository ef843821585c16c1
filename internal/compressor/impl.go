package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"tiff-squeeze-go/internal/tiffmeta"

	"github.com/disintegration/imaging"
	"github.com/hhrutter/tiff"
	"github.com/sirupsen/logrus"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	log *logrus.Logger
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(log *logrus.Logger) *DefaultCompressor {
	if log == nil {
		log = logrus.New()
	}
	return &DefaultCompressor{log: log}
}

// Compress runs the iterative size-targeting loop: resample the source to a
// shrinking resolution, enhance, re-encode with LZW, measure, and repeat
// until the encoded size reaches the target or the scale floor is hit.
// The output path is overwritten on every iteration; the last write is the
// returned artifact.
func (c *DefaultCompressor) Compress(ctx context.Context, params Params) (Result, error) {
	params.ApplyDefaults()

	res := Result{
		InputPath:  params.InputPath,
		OutputPath: params.OutputPath,
		StartedAt:  time.Now(),
	}

	if err := params.Validate(); err != nil {
		return c.fail(res, err)
	}

	info, err := os.Stat(params.InputPath)
	if err != nil {
		return c.fail(res, &DecodeError{Path: params.InputPath, Err: err})
	}
	res.OriginalSize = info.Size()

	src, err := imaging.Open(params.InputPath)
	if err != nil {
		return c.fail(res, &DecodeError{Path: params.InputPath, Err: err})
	}

	// Original dimensions never change for the life of the call; they are
	// the basis for both the minimum-size floor and every resample.
	origW := src.Bounds().Dx()
	origH := src.Bounds().Dy()
	res.OriginalWidth = origW
	res.OriginalHeight = origH
	res.TagsStripped = countMetadataFields(params.InputPath)

	minW := int(float64(origW) * params.MinSizePercentage)
	minH := int(float64(origH) * params.MinSizePercentage)

	c.log.WithFields(logrus.Fields{
		"input":     params.InputPath,
		"width":     origW,
		"height":    origH,
		"size_kb":   float64(res.OriginalSize) / 1024.0,
		"target_kb": params.TargetSizeKB,
	}).Info("Starting TIFF compression")

	scale := params.ScaleFactor
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return c.fail(res, err)
		}

		newW, newH := targetDimensions(origW, origH, scale, minW, minH)
		candidate := c.buildCandidate(src, newW, newH, params)

		encoded, err := encodeLZW(candidate, params.DPI)
		if err != nil {
			return c.fail(res, &EncodeError{Path: params.OutputPath, Err: err})
		}
		if err := os.WriteFile(params.OutputPath, encoded, 0644); err != nil {
			return c.fail(res, &EncodeError{Path: params.OutputPath, Err: err})
		}

		sizeKB := float64(len(encoded)) / 1024.0
		res.Iterations = iteration
		res.FinalWidth = newW
		res.FinalHeight = newH
		res.FinalScale = scale
		res.CompressedSize = int64(len(encoded))

		c.log.WithFields(logrus.Fields{
			"iteration": iteration,
			"width":     newW,
			"height":    newH,
			"scale":     scale,
			"size_kb":   sizeKB,
		}).Debug("Compression iteration finished")

		if params.Progress != nil {
			params.Progress(Progress{
				Iteration: iteration,
				Width:     newW,
				Height:    newH,
				Scale:     scale,
				SizeKB:    sizeKB,
			})
		}

		if sizeKB <= float64(params.TargetSizeKB) {
			res.TargetMet = true
			break
		}
		if scale <= ScaleFloor || iteration >= params.MaxIterations {
			break
		}
		scale *= params.DecayRate
	}

	res.Success = true
	if res.OriginalSize > 0 {
		res.PercentageSaved = float64(res.OriginalSize-res.CompressedSize) * 100 / float64(res.OriginalSize)
	}
	if res.TargetMet {
		res.Message = fmt.Sprintf("Target size reached after %d iteration(s)", res.Iterations)
	} else {
		res.Message = fmt.Sprintf("Scale floor reached after %d iteration(s); output is %.1f KB, above the %d KB target",
			res.Iterations, res.SizeKB(), params.TargetSizeKB)
	}
	res.FinishedAt = time.Now()

	c.log.WithFields(logrus.Fields{
		"output":     params.OutputPath,
		"iterations": res.Iterations,
		"size_kb":    res.SizeKB(),
		"target_met": res.TargetMet,
	}).Info("TIFF compression finished")

	return res, nil
}

// buildCandidate resamples the source to the given dimensions and applies
// the fixed enhancement pipeline: sharpen, then contrast, then an optional
// Gaussian blur.
func (c *DefaultCompressor) buildCandidate(src image.Image, w, h int, params Params) *image.NRGBA {
	candidate := imaging.Resize(src, w, h, imaging.Lanczos)
	if sigma := sharpenSigma(params.SharpnessFactor); sigma > 0 {
		candidate = imaging.Sharpen(candidate, sigma)
	}
	candidate = imaging.AdjustContrast(candidate, contrastPercentage(params.ContrastFactor))
	if params.BlurRadius > 0 {
		candidate = imaging.Blur(candidate, params.BlurRadius)
	}
	return candidate
}

// encodeLZW encodes the candidate as an LZW-compressed TIFF and stamps the
// requested DPI into its resolution tags. The writer in golang.org/x/image/tiff
// cannot produce LZW, so the hhrutter fork is used here. Re-encoding drops
// every inherited metadata field; the resolution tag is the only one written
// fresh.
func encodeLZW(img image.Image, dpi int) ([]byte, error) {
	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.LZW, Predictor: true}
	if err := tiff.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if err := tiffmeta.SetResolution(data, dpi); err != nil {
		return nil, err
	}
	return data, nil
}

// targetDimensions applies the current scale to the original dimensions,
// honoring the minimum-size floor and clamping degenerate results to 1px.
func targetDimensions(baseW, baseH int, scale float64, minW, minH int) (int, int) {
	w := int(float64(baseW) * scale)
	h := int(float64(baseH) * scale)
	if w < minW {
		w = minW
	}
	if h < minH {
		h = minH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// sharpenSigma maps an enhancement factor (1.0 = neutral) to a sharpening
// sigma. Factors at or below neutral skip the sharpening step.
func sharpenSigma(factor float64) float64 {
	return factor - 1.0
}

// contrastPercentage maps an enhancement factor (1.0 = neutral) to the
// percentage change expected by imaging.AdjustContrast, clamped to its
// [-100, 100] domain.
func contrastPercentage(factor float64) float64 {
	pct := (factor - 1.0) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < -100 {
		pct = -100
	}
	return pct
}

// fail finalizes a result for an error exit path.
func (c *DefaultCompressor) fail(res Result, err error) (Result, error) {
	res.Message = err.Error()
	res.FinishedAt = time.Now()
	return res, err
}
