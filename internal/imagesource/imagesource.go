// Package imagesource holds the single current image and owns its preview handle.
package imagesource

import (
	"context"
	"sync"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
	"neuroface-id/internal/storage"
	"neuroface-id/pkg/models"
)

// Kind discriminates where the current image came from
type Kind string

const (
	KindNone     Kind = "none"
	KindUploaded Kind = "uploaded"
	KindCaptured Kind = "captured"
)

type State struct {
	store storage.PreviewStore

	mu    sync.RWMutex
	kind  Kind
	image *models.CapturedImage
}

func New(store storage.PreviewStore) *State {
	return &State{store: store, kind: KindNone}
}

// Set stores a preview for img and makes it current. The previous preview
// handle is released only after the new one resolves.
func (s *State) Set(ctx context.Context, kind Kind, img *models.CapturedImage) error {
	if kind != KindUploaded && kind != KindCaptured {
		return apperrors.NewInternalError("invalid image source kind "+string(kind), nil)
	}
	if img == nil || len(img.Bytes) == 0 {
		return apperrors.NewValidationError("Image cannot be empty", nil)
	}

	handle, err := s.store.Put(ctx, img.Bytes, img.MIMEType)
	if err != nil {
		return apperrors.NewInternalError("Failed to store image preview", err)
	}
	img.PreviewHandle = handle

	s.mu.Lock()
	previous := s.image
	s.kind = kind
	s.image = img
	s.mu.Unlock()

	s.release(ctx, previous)
	return nil
}

// Clear drops the current image and releases its preview
func (s *State) Clear(ctx context.Context) {
	s.mu.Lock()
	previous := s.image
	s.kind = KindNone
	s.image = nil
	s.mu.Unlock()

	s.release(ctx, previous)
}

// Current returns the source kind and image; the image is nil for KindNone
func (s *State) Current() (Kind, *models.CapturedImage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kind, s.image
}

func (s *State) HasImage() bool {
	_, img := s.Current()
	return img != nil
}

func (s *State) release(ctx context.Context, img *models.CapturedImage) {
	if img == nil || img.PreviewHandle == "" {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), img.PreviewHandle); err != nil {
		logger.WithComponent("imagesource").WithError(err).
			WithField("preview_handle", img.PreviewHandle).Warn("Failed to release preview")
	}
}
