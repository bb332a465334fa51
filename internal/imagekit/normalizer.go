package imagekit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/example/tea-grade/internal/apperror"
	"github.com/example/tea-grade/internal/config"
)

type decodeFunc func(r io.Reader) (image.Image, error)

func decodeOriented(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// Normalizer decodes validated uploads and bounds their dimensions.
type Normalizer struct {
	maxDimension  int
	decodeTimeout time.Duration
	filter        imaging.ResampleFilter
	decode        decodeFunc
}

// NewNormalizer builds a normalizer from the analysis limits.
func NewNormalizer(cfg config.Analysis) *Normalizer {
	return &Normalizer{
		maxDimension:  cfg.MaxDimension,
		decodeTimeout: cfg.DecodeTimeout,
		filter:        imaging.Lanczos,
		decode:        decodeOriented,
	}
}

// Normalize decodes the image, applies EXIF orientation, downscales it so the
// longer side fits the cap and flattens any transparency onto white.
// Smaller images are never upscaled.
func (n *Normalizer) Normalize(ctx context.Context, validated *ValidatedImage) (*NormalizedImage, error) {
	img, err := n.decodeWithTimeout(ctx, validated.Data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, apperror.New(apperror.CorruptImage, "image has no pixels",
			fmt.Errorf("decoded dimensions %dx%d", srcW, srcH))
	}

	dstW, dstH := FitDimensions(srcW, srcH, n.maxDimension)
	if dstW != srcW || dstH != srcH {
		img = imaging.Resize(img, dstW, dstH, n.filter)
	}

	return &NormalizedImage{
		Image:        flatten(img),
		Width:        dstW,
		Height:       dstH,
		SourceWidth:  srcW,
		SourceHeight: srcH,
		SourceFormat: validated.Format,
	}, nil
}

type decodeResult struct {
	img image.Image
	err error
}

func (n *Normalizer) decodeWithTimeout(ctx context.Context, data []byte) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, n.decodeTimeout)
	defer cancel()

	// Buffered so an abandoned decode can still finish and exit.
	done := make(chan decodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- decodeResult{err: apperror.New(apperror.Internal,
					"unexpected error while decoding image", fmt.Errorf("decoder panic: %v", r))}
			}
		}()
		img, err := n.decode(bytes.NewReader(data))
		if err != nil {
			err = apperror.New(apperror.CorruptImage, "image could not be decoded", err)
		}
		done <- decodeResult{img: img, err: err}
	}()

	select {
	case res := <-done:
		return res.img, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.New(apperror.CorruptImage, "image decoding did not finish in time", ctx.Err())
		}
		return nil, apperror.New(apperror.Internal, "request cancelled while decoding image", ctx.Err())
	}
}

// FitDimensions returns the size that fits within limit×limit while keeping
// the aspect ratio. Sizes already within the limit are returned unchanged.
func FitDimensions(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	if width >= height {
		return limit, scaleSide(height, limit, width)
	}
	return scaleSide(width, limit, height), limit
}

func scaleSide(side, limit, longest int) int {
	scaled := int(math.Round(float64(side) * float64(limit) / float64(longest)))
	if scaled < 1 {
		return 1
	}
	return scaled
}

func flatten(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}
