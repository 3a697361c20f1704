// Package cvdriver opens host cameras through OpenCV.
package cvdriver

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"neuroface-id/internal/camera"
)

// Driver maps facing modes to OpenCV device indices
type Driver struct {
	FrontIndex int
	RearIndex  int
}

func New(frontIndex, rearIndex int) *Driver {
	return &Driver{FrontIndex: frontIndex, RearIndex: rearIndex}
}

func (d *Driver) Open(ctx context.Context, facing camera.FacingMode, cfg camera.Config) (camera.Device, error) {
	index := d.FrontIndex
	if facing == camera.FacingEnvironment {
		index = d.RearIndex
	}

	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("opening camera %d: %w: %v", index, camera.ErrNoDevice, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %d is not open: %w", index, camera.ErrDeviceBusy)
	}
	if err := ctx.Err(); err != nil {
		capture.Close()
		return nil, err
	}

	if cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &device{capture: capture, index: index, mat: gocv.NewMat()}, nil
}

type device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	index   int
	mat     gocv.Mat
}

func (d *device) ReadFrame() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from camera %d", d.index)
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mat.Close()
	if err := d.capture.Close(); err != nil {
		return fmt.Errorf("error closing camera %d: %w", d.index, err)
	}
	return nil
}
