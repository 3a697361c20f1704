package validation

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/pkg/models"
)

// ImageValidator accepts uploaded stills by content, not by file name or
// client supplied content type.
type ImageValidator struct {
	maxBytes int64
	allowed  map[string]bool
}

// NewImageValidator creates a validator for JPEG, PNG, WebP and GIF payloads
// up to maxBytes.
// A non-positive maxBytes disables the size check.
func NewImageValidator(maxBytes int64) *ImageValidator {
	return &ImageValidator{
		maxBytes: maxBytes,
		allowed: map[string]bool{
			models.MIMETypeJPEG: true,
			models.MIMETypePNG:  true,
			models.MIMETypeWebP: true,
			models.MIMETypeGIF:  true,
		},
	}
}

// Validate sniffs data and returns its MIME type
func (v *ImageValidator) Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.NewValidationError("Image cannot be empty", nil)
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("Image exceeds maximum size of %d bytes", v.maxBytes), nil)
	}

	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if v.allowed[m.String()] {
			return m.String(), nil
		}
	}
	return "", apperrors.NewValidationError("Unsupported image type", fmt.Errorf("detected %s", mt.String()))
}
