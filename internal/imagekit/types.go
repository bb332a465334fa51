// Package imagekit validates uploaded tea leaf photos and normalizes them
// into bounded pixel buffers ready for classification.
package imagekit

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// UploadedImage is the raw upload as received from the transport.
type UploadedImage struct {
	Data      []byte
	MediaType string
	Filename  string
	// Size is the declared byte length. It may be set without Data when the
	// transport already knows the payload is too large to read.
	Size int64
}

// ByteLength is the larger of the declared size and the payload length.
func (u UploadedImage) ByteLength() int64 {
	if n := int64(len(u.Data)); n > u.Size {
		return n
	}
	return u.Size
}

// ValidatedImage is an upload that passed every validator check.
type ValidatedImage struct {
	Data      []byte
	MediaType string
	Format    string
	Width     int
	Height    int
}

// NormalizedImage is an opaque pixel buffer whose longer side does not exceed
// the configured cap.
type NormalizedImage struct {
	Image        *image.NRGBA
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	SourceFormat string
}

// EncodePNG serializes the pixel buffer for classifiers that need bytes.
func (n *NormalizedImage) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, n.Image, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
