package models

// SelectModelRequest switches the active architecture
type SelectModelRequest struct {
	Model string `json:"model" binding:"required"`
}

// StartCameraRequest opens the camera. FacingMode defaults to "user".
type StartCameraRequest struct {
	FacingMode string `json:"facingMode,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ImageView is the public view of the current image source
type ImageView struct {
	Source        string `json:"source"`
	MIMEType      string `json:"mimeType,omitempty"`
	PreviewHandle string `json:"previewHandle,omitempty"`
	PreviewURL    string `json:"previewUrl,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	SizeBytes     int    `json:"sizeBytes,omitempty"`
}

// CameraView is the public view of the capture adapter
type CameraView struct {
	Open       bool   `json:"isCameraOpen"`
	FacingMode string `json:"facingMode,omitempty"`
	Mirrored   bool   `json:"mirrored,omitempty"`
	Error      string `json:"cameraError,omitempty"`
}

// AnalysisView is the public view of the analysis session
type AnalysisView struct {
	Status     string          `json:"status"`
	IsLoading  bool            `json:"isLoading"`
	Result     *AnalysisResult `json:"result"`
	Error      *string         `json:"error"`
	Generation uint64          `json:"generation"`
}

// WorkspaceView is the full state a front-end renders
type WorkspaceView struct {
	Model    Architecture `json:"model"`
	Image    ImageView    `json:"image"`
	Camera   CameraView   `json:"camera"`
	Analysis AnalysisView `json:"analysis"`
	Trigger  string       `json:"trigger"`
}
