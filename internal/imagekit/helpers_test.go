package imagekit

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/example/tea-grade/internal/config"
)

func testAnalysisConfig() config.Analysis {
	return config.DefaultAnalysis()
}

func leafImage(width, height int) *image.NRGBA {
	return imaging.New(width, height, color.NRGBA{R: 64, G: 140, B: 72, A: 255})
}

func encodeImage(t *testing.T, img image.Image, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
