package imagekit

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/tea-grade/internal/apperror"
	"github.com/example/tea-grade/internal/config"
)

const octetStream = "application/octet-stream"

var mediaTypeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"image/x-png": "image/png",
}

var formatMediaTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

// Validator checks upload constraints before any pixel work happens.
type Validator struct {
	maxBytes  int64
	maxPixels int
	accepted  map[string]struct{}
}

// NewValidator builds a validator from the analysis limits.
func NewValidator(cfg config.Analysis) *Validator {
	accepted := make(map[string]struct{}, len(cfg.AcceptedMediaTypes))
	for _, mt := range cfg.AcceptedMediaTypes {
		accepted[canonicalMediaType(mt)] = struct{}{}
	}
	return &Validator{
		maxBytes:  cfg.MaxUploadBytes,
		maxPixels: cfg.MaxPixels,
		accepted:  accepted,
	}
}

// Validate runs the size, media type and decodability checks in that order
// and stops at the first failure.
func (v *Validator) Validate(upload UploadedImage) (*ValidatedImage, error) {
	if size := upload.ByteLength(); size > v.maxBytes {
		return nil, apperror.New(apperror.TooLarge,
			fmt.Sprintf("file size must not exceed %d bytes", v.maxBytes),
			fmt.Errorf("upload is %d bytes", size))
	}

	mediaType := resolveMediaType(upload)
	if !v.accepts(mediaType) {
		return nil, apperror.New(apperror.UnsupportedFormat,
			"only JPEG or PNG images are supported",
			fmt.Errorf("media type %q", mediaType))
	}

	if len(upload.Data) == 0 {
		return nil, apperror.New(apperror.CorruptImage, "image is empty", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(upload.Data))
	if err != nil {
		return nil, apperror.New(apperror.CorruptImage, "image could not be decoded", err)
	}
	detected := formatMediaTypes[format]
	if !v.accepts(detected) {
		return nil, apperror.New(apperror.UnsupportedFormat,
			"only JPEG or PNG images are supported",
			fmt.Errorf("declared %q but content is %q", mediaType, format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperror.New(apperror.CorruptImage, "image has no pixels",
			fmt.Errorf("dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(v.maxPixels) {
		return nil, apperror.New(apperror.CorruptImage, "image dimensions are too large to process",
			fmt.Errorf("dimensions %dx%d exceed %d pixels", cfg.Width, cfg.Height, v.maxPixels))
	}

	return &ValidatedImage{
		Data:      upload.Data,
		MediaType: detected,
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

func (v *Validator) accepts(mediaType string) bool {
	if mediaType == "" {
		return false
	}
	_, ok := v.accepted[mediaType]
	return ok
}

// resolveMediaType prefers the declared type, then the filename extension,
// then the sniffed content type.
func resolveMediaType(upload UploadedImage) string {
	if declared := canonicalMediaType(upload.MediaType); declared != "" && declared != octetStream {
		return declared
	}
	if ext := filepath.Ext(upload.Filename); ext != "" {
		if byExt := canonicalMediaType(mime.TypeByExtension(strings.ToLower(ext))); byExt != "" {
			return byExt
		}
	}
	if len(upload.Data) > 0 {
		return canonicalMediaType(mimetype.Detect(upload.Data).String())
	}
	return ""
}

func canonicalMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	if alias, ok := mediaTypeAliases[mediaType]; ok {
		return alias
	}
	return mediaType
}
