package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	apperrors "neuroface-id/internal/errors"
	"neuroface-id/pkg/models"
)

// CaptureFileName is attached to every captured still
const CaptureFileName = "camera_capture.jpg"

// FrameSource is a live stream the encoder can snapshot
type FrameSource interface {
	Frame() (image.Image, error)
	Mirrored() bool
}

type Options struct {
	Quality        int
	PreviewQuality int
	FlashDelay     time.Duration
	// MaxDimension bounds the longer edge of captured stills; 0 keeps native size
	MaxDimension int
}

func DefaultOptions() Options {
	return Options{
		Quality:        95,
		PreviewQuality: 70,
		FlashDelay:     100 * time.Millisecond,
	}
}

// Encoder turns live frames into encoded stills
type Encoder struct {
	opts Options
}

func New(opts Options) *Encoder {
	defaults := DefaultOptions()
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaults.Quality
	}
	if opts.PreviewQuality <= 0 || opts.PreviewQuality > 100 {
		opts.PreviewQuality = defaults.PreviewQuality
	}
	if opts.FlashDelay < 0 {
		opts.FlashDelay = 0
	}
	return &Encoder{opts: opts}
}

// Capture snapshots src into a JPEG still. A mirrored source is flipped the
// same way as its preview so the still matches what the user saw.
// The stream is not released.
func (e *Encoder) Capture(ctx context.Context, src FrameSource) (*models.CapturedImage, error) {
	if e.opts.FlashDelay > 0 {
		timer := time.NewTimer(e.opts.FlashDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.NewCameraError("Capture was cancelled.", ctx.Err())
		case <-timer.C:
		}
	}

	frame, err := e.snapshot(src)
	if err != nil {
		return nil, err
	}
	if e.opts.MaxDimension > 0 {
		frame = Downscale(frame, e.opts.MaxDimension)
	}

	data, err := encodeJPEG(frame, e.opts.Quality)
	if err != nil {
		return nil, err
	}

	bounds := frame.Bounds()
	return &models.CapturedImage{
		Bytes:      data,
		MIMEType:   models.MIMETypeJPEG,
		FileName:   CaptureFileName,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: time.Now(),
	}, nil
}

// PreviewJPEG encodes the current frame as displayed, mirroring included
func (e *Encoder) PreviewJPEG(src FrameSource) ([]byte, error) {
	frame, err := src.Frame()
	if err != nil {
		return nil, apperrors.NewCameraError("Failed to read camera frame.", err)
	}
	rgba := toRGBA(frame)
	if src.Mirrored() {
		Mirror(rgba)
	}
	return encodeJPEG(rgba, e.opts.PreviewQuality)
}

// snapshot copies the frame into a buffer of the stream's native size
func (e *Encoder) snapshot(src FrameSource) (*image.RGBA, error) {
	frame, err := src.Frame()
	if err != nil {
		return nil, apperrors.NewCameraError("Failed to read camera frame.", err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, apperrors.NewCameraError("Camera returned an empty frame.", nil)
	}
	rgba := toRGBA(frame)
	if src.Mirrored() {
		Mirror(rgba)
	}
	return rgba, nil
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Mirror flips img horizontally in place
func Mirror(img *image.RGBA) {
	b := img.Bounds()
	width := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
			lo, ro := l*4, r*4
			for c := 0; c < 4; c++ {
				row[lo+c], row[ro+c] = row[ro+c], row[lo+c]
			}
		}
	}
}

// Downscale shrinks img so its longer edge is at most maxDim, keeping aspect ratio
func Downscale(img *image.RGBA, maxDim int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.NewInternalError("Failed to encode image", err)
	}
	return buf.Bytes(), nil
}
