// Package camera owns the single exclusive camera stream and its failures.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
)

// FacingMode selects the front ("user") or rear ("environment") device
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// ParseFacingMode defaults an empty value to the front camera
func ParseFacingMode(value string) (FacingMode, error) {
	switch FacingMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", FacingUser:
		return FacingUser, nil
	case FacingEnvironment:
		return FacingEnvironment, nil
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("Unsupported facing mode %q", value), nil)
	}
}

// Driver failures the adapter knows how to describe
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrStreamClosed     = errors.New("camera stream closed")
)

// Config is the requested capture resolution. Zero values leave the device default.
type Config struct {
	Width  int
	Height int
}

// Device is one opened, exclusively held camera
type Device interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// Driver opens devices on the host platform
type Driver interface {
	Open(ctx context.Context, facing FacingMode, cfg Config) (Device, error)
}

// Stream is a live, acquired camera bound to the preview surface
type Stream struct {
	id       string
	facing   FacingMode
	mirrored bool
	openedAt time.Time

	mu     sync.Mutex
	device Device
	closed bool
}

func (s *Stream) ID() string             { return s.id }
func (s *Stream) FacingMode() FacingMode { return s.facing }
func (s *Stream) OpenedAt() time.Time    { return s.openedAt }

// Mirrored reports whether the preview is shown flipped (front camera)
func (s *Stream) Mirrored() bool { return s.mirrored }

// Frame reads the current raw frame at the device's native resolution
func (s *Stream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	return s.device.ReadFrame()
}

func (s *Stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.device.Close()
}

// Adapter owns the lifecycle of the single exclusive camera stream
type Adapter struct {
	driver Driver
	cfg    Config

	mu      sync.Mutex
	current *Stream
}

func NewAdapter(driver Driver, cfg Config) *Adapter {
	return &Adapter{driver: driver, cfg: cfg}
}

// Acquire opens the camera for facing, releasing any stream already held.
// Every failure is returned as a camera AppError; nothing is retried.
func (a *Adapter) Acquire(ctx context.Context, facing FacingMode) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCameraError(describe(err), err)
	}

	device, err := a.driver.Open(ctx, facing, a.cfg)
	if err != nil {
		logger.WithComponent("camera").WithError(err).
			WithField("facing_mode", facing).Warn("Camera acquisition failed")
		return nil, apperrors.NewCameraError(describe(err), err)
	}

	a.current = &Stream{
		id:       uuid.NewString(),
		facing:   facing,
		mirrored: facing == FacingUser,
		openedAt: time.Now(),
		device:   device,
	}
	logger.WithComponent("camera").WithFields(map[string]interface{}{
		"stream_id":   a.current.id,
		"facing_mode": facing,
	}).Info("Camera acquired")
	return a.current, nil
}

// Release closes the held stream. It is safe to call with nothing held.
func (a *Adapter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
}

func (a *Adapter) releaseLocked() {
	if a.current == nil {
		return
	}
	stream := a.current
	a.current = nil
	if err := stream.close(); err != nil {
		logger.WithComponent("camera").WithError(err).
			WithField("stream_id", stream.id).Warn("Error closing camera device")
		return
	}
	logger.WithComponent("camera").WithField("stream_id", stream.id).Info("Camera released")
}

// Current returns the bound stream or nil
func (a *Adapter) Current() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) IsOpen() bool {
	return a.Current() != nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Unable to access the camera. Please check camera permissions."
	case errors.Is(err, ErrNoDevice):
		return "No camera device was found."
	case errors.Is(err, ErrDeviceBusy):
		return "The camera is already in use by another application."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Camera request was cancelled."
	default:
		return "Unable to access the camera."
	}
}
