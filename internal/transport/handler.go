package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroface-id/internal/config"
	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/logger"
	"neuroface-id/internal/observer"
	"neuroface-id/internal/storage"
	"neuroface-id/pkg/models"
)

// Workspace is the state the HTTP surface drives
type Workspace interface {
	UploadImage(ctx context.Context, fileName string, data []byte) (models.WorkspaceView, error)
	StartCamera(ctx context.Context, facingMode string) (models.WorkspaceView, error)
	StopCamera(ctx context.Context) models.WorkspaceView
	CapturePhoto(ctx context.Context) (models.WorkspaceView, error)
	ClearImage(ctx context.Context) models.WorkspaceView
	SelectModel(ctx context.Context, name string) (models.WorkspaceView, error)
	RunAnalysis(ctx context.Context) (models.WorkspaceView, error)
	View() models.WorkspaceView
	PreviewFrame() ([]byte, error)
	Preview(ctx context.Context, handle string) (*storage.Preview, error)
}

// MetricsProvider exposes session counters
type MetricsProvider interface {
	GetMetrics() observer.Metrics
}

// ModelsResponse lists the selectable architectures
type ModelsResponse struct {
	Models   []models.ArchitectureInfo `json:"models"`
	Selected models.Architecture       `json:"selected"`
}

func NewHandler(ws Workspace, metrics MetricsProvider, cfg *config.Config) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", healthCheck)

	api := r.Group("/api")
	api.GET("/models", listModels(ws))
	api.GET("/state", getState(ws))
	api.PUT("/model", selectModel(ws, cfg))
	api.POST("/image", uploadImage(ws, cfg))
	api.DELETE("/image", clearImage(ws))
	api.POST("/camera", startCamera(ws, cfg))
	api.DELETE("/camera", stopCamera(ws))
	api.POST("/camera/capture", capturePhoto(ws, cfg))
	api.GET("/camera/preview", previewStream(ws, cfg))
	api.POST("/analysis", runAnalysis(ws, cfg))
	api.GET("/previews/:handle", getPreview(ws, cfg))
	api.GET("/metrics", getMetrics(metrics))

	return r
}

func listModels(ws Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ModelsResponse{
			Models:   models.Architectures(),
			Selected: ws.View().Model,
		})
	}
}

func getState(ws Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ws.View())
	}
}

func selectModel(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SelectModelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("Invalid request format", err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := ws.SelectModel(ctx, req.Model)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func uploadImage(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(c, apperrors.NewValidationError("Image is too large", err))
				return
			}
			respondError(c, apperrors.NewValidationError("Multipart field 'image' is required", err))
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			respondError(c, apperrors.NewValidationError("Unable to read uploaded file", err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			respondError(c, apperrors.NewValidationError("Unable to read uploaded file", err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := ws.UploadImage(ctx, fileHeader.Filename, data)
		if err != nil {
			respondError(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"file_name":  fileHeader.Filename,
			"size_bytes": len(data),
			"mime_type":  view.Image.MIMEType,
		}).Info("Image uploaded")
		c.JSON(statusFor(view), view)
	}
}

func clearImage(ws Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ws.ClearImage(c.Request.Context()))
	}
}

func startCamera(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartCameraRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, apperrors.NewValidationError("Invalid request format", err))
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := ws.StartCamera(ctx, req.FacingMode)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func stopCamera(ws Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ws.StopCamera(c.Request.Context()))
	}
}

func capturePhoto(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := ws.CapturePhoto(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(statusFor(view), view)
	}
}

func runAnalysis(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		view, err := ws.RunAnalysis(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(statusFor(view), view)
	}
}

func getPreview(ws Workspace, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		preview, err := ws.Preview(ctx, c.Param("handle"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Cache-Control", "private, max-age=300")
		c.Data(http.StatusOK, preview.MIMEType, preview.Data)
	}
}

func getMetrics(metrics MetricsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.GetMetrics())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor answers 202 while an analysis the request started is still running
func statusFor(view models.WorkspaceView) int {
	if view.Analysis.IsLoading {
		return http.StatusAccepted
	}
	return http.StatusOK
}
