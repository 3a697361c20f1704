package models

import "time"

// Supported still-image encodings
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeWebP = "image/webp"
	MIMETypeGIF  = "image/gif"
)

// CapturedImage is the unit of input to analysis. PreviewHandle is only
// meaningful while the image is current; it is released when superseded.
type CapturedImage struct {
	Bytes         []byte    `json:"-"`
	MIMEType      string    `json:"mimeType"`
	PreviewHandle string    `json:"previewHandle"`
	FileName      string    `json:"fileName,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// Size returns the encoded payload length in bytes
func (c *CapturedImage) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Bytes)
}
