package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrPreviewNotFound is returned for unknown, released or expired handles
var ErrPreviewNotFound = errors.New("preview not found")

// Preview is a displayable copy of the current image
type Preview struct {
	Data     []byte
	MIMEType string
}

// PreviewStore holds preview payloads addressed by an opaque handle.
// A handle is valid until Delete is called or the backend expires it.
type PreviewStore interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, handle string) (*Preview, error)
	Delete(ctx context.Context, handle string) error
}

func newHandle() string {
	return uuid.NewString()
}

// validHandle rejects anything that is not a handle this package issued
func validHandle(handle string) bool {
	_, err := uuid.Parse(strings.TrimSpace(handle))
	return err == nil
}
