// Package workspace binds the camera, the current image and the analysis
// session into one serialized unit of state that a front-end drives.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"neuroface-id/internal/analysis"
	"neuroface-id/internal/camera"
	"neuroface-id/internal/encoder"
	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/imagesource"
	"neuroface-id/internal/logger"
	"neuroface-id/internal/observer"
	"neuroface-id/internal/session"
	"neuroface-id/internal/storage"
	"neuroface-id/internal/strategy"
	"neuroface-id/pkg/models"
	"neuroface-id/pkg/validation"
)

const DefaultPreviewURLPrefix = "/api/previews/"

var ErrClosed = apperrors.NewConflictError("Workspace is closed", nil)

// Dependencies are the collaborators a Workspace orchestrates
type Dependencies struct {
	Camera    *camera.Adapter
	Encoder   *encoder.Encoder
	Previews  storage.PreviewStore
	Client    analysis.Client
	Trigger   strategy.TriggerStrategy
	Validator *validation.ImageValidator
	// Events may be nil
	Events           observer.Subject
	DefaultModel     models.Architecture
	PreviewURLPrefix string
}

type Workspace struct {
	camera    *camera.Adapter
	encoder   *encoder.Encoder
	previews  storage.PreviewStore
	images    *imagesource.State
	client    analysis.Client
	session   *session.Machine
	trigger   *strategy.TriggerContext
	validator *validation.ImageValidator
	events    observer.Subject
	urlPrefix string

	// mu serializes every state mutation
	mu        sync.Mutex
	model     models.Architecture
	cameraErr string
	cancelRun context.CancelFunc
	closed    bool

	runs sync.WaitGroup
}

func New(deps Dependencies) *Workspace {
	model := deps.DefaultModel
	if !model.Valid() {
		model = models.ArchitectureViT
	}
	trigger := deps.Trigger
	if trigger == nil {
		trigger = strategy.NewExplicitTriggerStrategy()
	}
	prefix := deps.PreviewURLPrefix
	if prefix == "" {
		prefix = DefaultPreviewURLPrefix
	}

	return &Workspace{
		camera:    deps.Camera,
		encoder:   deps.Encoder,
		previews:  deps.Previews,
		images:    imagesource.New(deps.Previews),
		client:    deps.Client,
		session:   session.NewMachine(deps.Events),
		trigger:   strategy.NewTriggerContext(trigger),
		validator: deps.Validator,
		events:    deps.Events,
		urlPrefix: prefix,
		model:     model,
	}
}

// UploadImage validates data and makes it the current image. The camera is
// stopped and any previous result or in-flight run is discarded.
func (w *Workspace) UploadImage(ctx context.Context, fileName string, data []byte) (models.WorkspaceView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.viewLocked(), ErrClosed
	}

	mimeType, err := w.validator.Validate(data)
	if err != nil {
		return w.viewLocked(), err
	}

	img := &models.CapturedImage{
		Bytes:      data,
		MIMEType:   mimeType,
		FileName:   fileName,
		CapturedAt: time.Now(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}

	w.stopCameraLocked(ctx)
	w.resetLocked(ctx)
	if err := w.images.Set(ctx, imagesource.KindUploaded, img); err != nil {
		return w.viewLocked(), err
	}
	w.publish(ctx, observer.SessionEvent{
		EventType: observer.ImageSelected,
		Success:   true,
		Metadata: map[string]interface{}{
			"source":     imagesource.KindUploaded,
			"mime_type":  mimeType,
			"size_bytes": len(data),
		},
	})

	w.maybeAutoRunLocked(ctx)
	return w.viewLocked(), nil
}

// StartCamera discards the current image and result and acquires the camera.
// On failure the camera error is recorded and the camera stays closed.
func (w *Workspace) StartCamera(ctx context.Context, facingMode string) (models.WorkspaceView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.viewLocked(), ErrClosed
	}

	facing, err := camera.ParseFacingMode(facingMode)
	if err != nil {
		return w.viewLocked(), err
	}

	w.resetLocked(ctx)
	w.clearImageLocked(ctx)
	w.cameraErr = ""

	stream, err := w.camera.Acquire(ctx, facing)
	if err != nil {
		w.cameraErr = apperrors.UserMessage(err)
		w.publish(ctx, observer.SessionEvent{
			EventType:    observer.CameraFailed,
			ErrorMessage: w.cameraErr,
			Metadata:     map[string]interface{}{"facing_mode": facing},
		})
		return w.viewLocked(), err
	}

	w.publish(ctx, observer.SessionEvent{
		EventType: observer.CameraOpened,
		Success:   true,
		Metadata: map[string]interface{}{
			"stream_id":   stream.ID(),
			"facing_mode": facing,
		},
	})
	return w.viewLocked(), nil
}

// StopCamera releases the camera; it is a no-op when nothing is held
func (w *Workspace) StopCamera(ctx context.Context) models.WorkspaceView {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopCameraLocked(ctx)
	return w.viewLocked()
}

// CapturePhoto snapshots the live stream into the current image and releases
// the camera. If encoding fails the camera stays open so the user can retry.
func (w *Workspace) CapturePhoto(ctx context.Context) (models.WorkspaceView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.viewLocked(), ErrClosed
	}

	stream := w.camera.Current()
	if stream == nil {
		return w.viewLocked(), apperrors.NewConflictError("Camera is not open", nil)
	}

	img, err := w.encoder.Capture(ctx, stream)
	if err != nil {
		return w.viewLocked(), err
	}

	w.resetLocked(ctx)
	if err := w.images.Set(ctx, imagesource.KindCaptured, img); err != nil {
		return w.viewLocked(), err
	}
	w.stopCameraLocked(ctx)
	w.publish(ctx, observer.SessionEvent{
		EventType: observer.ImageSelected,
		Success:   true,
		Metadata: map[string]interface{}{
			"source":     imagesource.KindCaptured,
			"size_bytes": img.Size(),
			"width":      img.Width,
			"height":     img.Height,
		},
	})

	w.maybeAutoRunLocked(ctx)
	return w.viewLocked(), nil
}

// ClearImage returns everything to its initial state. Any in-flight run is
// cancelled and its eventual response is ignored.
func (w *Workspace) ClearImage(ctx context.Context) models.WorkspaceView {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.resetLocked(ctx)
	w.clearImageLocked(ctx)
	w.stopCameraLocked(ctx)
	w.cameraErr = ""
	return w.viewLocked()
}

// SelectModel switches the architecture. A present result or error is
// dropped but the image is kept. Switching while Loading is rejected.
func (w *Workspace) SelectModel(ctx context.Context, name string) (models.WorkspaceView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.viewLocked(), ErrClosed
	}

	model, err := models.ParseArchitecture(name)
	if err != nil {
		return w.viewLocked(), apperrors.NewValidationError(err.Error(), err)
	}
	if model == w.model {
		return w.viewLocked(), nil
	}
	if w.session.IsLoading() {
		return w.viewLocked(), apperrors.NewConflictError("Cannot change model while analysis is running", nil)
	}

	w.model = model
	if w.session.HasOutcome() {
		w.resetLocked(ctx)
	}
	w.maybeAutoRunLocked(ctx)
	return w.viewLocked(), nil
}

// RunAnalysis starts an analysis of the current image with the selected
// model. With no image, or while a run is in flight, it changes nothing.
func (w *Workspace) RunAnalysis(ctx context.Context) (models.WorkspaceView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.viewLocked(), ErrClosed
	}

	if !w.trigger.AllowsExplicitRun(w.snapshotLocked()) {
		return w.viewLocked(), nil
	}
	if err := w.startRunLocked(ctx); err != nil {
		return w.viewLocked(), err
	}
	return w.viewLocked(), nil
}

// View returns the current state
func (w *Workspace) View() models.WorkspaceView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// PreviewFrame encodes the live camera frame as displayed
func (w *Workspace) PreviewFrame() ([]byte, error) {
	stream := w.camera.Current()
	if stream == nil {
		return nil, apperrors.NewConflictError("Camera is not open", nil)
	}
	return w.encoder.PreviewJPEG(stream)
}

// Preview resolves a preview handle issued for the current or a recent image
func (w *Workspace) Preview(ctx context.Context, handle string) (*storage.Preview, error) {
	preview, err := w.previews.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrPreviewNotFound) {
			return nil, apperrors.NewNotFoundError("Preview not found", err)
		}
		return nil, apperrors.NewInternalError("Failed to load preview", err)
	}
	return preview, nil
}

// TriggerMode names the active trigger strategy
func (w *Workspace) TriggerMode() string {
	return w.trigger.GetCurrentStrategy()
}

// Wait blocks until every background run has finished
func (w *Workspace) Wait() {
	w.runs.Wait()
}

// Close releases the camera and the preview and waits for in-flight runs
func (w *Workspace) Close(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.resetLocked(ctx)
	w.stopCameraLocked(ctx)
	w.images.Clear(ctx)
	w.mu.Unlock()

	w.runs.Wait()
}

func (w *Workspace) startRunLocked(ctx context.Context) error {
	_, img := w.images.Current()
	if img == nil {
		return nil
	}

	ticket, err := w.session.Begin(ctx, w.model)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyLoading) {
			return nil
		}
		return err
	}

	// The run outlives the request that started it; only a reset cancels it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancelRun = cancel
	w.runs.Add(1)
	go w.run(runCtx, cancel, ticket, img)
	return nil
}

func (w *Workspace) run(ctx context.Context, cancel context.CancelFunc, ticket session.Ticket, img *models.CapturedImage) {
	defer w.runs.Done()
	defer cancel()

	log := logger.WithComponent("workspace").WithFields(logrus.Fields{
		"generation": ticket.Generation,
		"model":      ticket.Model,
		"backend":    w.client.Name(),
	})

	result, err := w.client.Analyze(ctx, img, ticket.Model)
	if err != nil {
		if !w.session.Fail(ctx, ticket, apperrors.UserMessage(err)) {
			log.WithError(err).Debug("Ignoring failure of superseded run")
		}
		return
	}
	if !w.session.Succeed(ctx, ticket, result) {
		log.Debug("Ignoring result of superseded run")
	}
}

func (w *Workspace) maybeAutoRunLocked(ctx context.Context) {
	if !w.trigger.ShouldRunOnChange(w.snapshotLocked()) {
		return
	}
	if err := w.startRunLocked(ctx); err != nil {
		logger.WithComponent("workspace").WithError(err).Warn("Automatic analysis did not start")
	}
}

// resetLocked cancels any in-flight run and returns the session to Idle
func (w *Workspace) resetLocked(ctx context.Context) {
	if w.cancelRun != nil {
		w.cancelRun()
		w.cancelRun = nil
	}
	w.session.Reset(ctx)
}

func (w *Workspace) clearImageLocked(ctx context.Context) {
	if !w.images.HasImage() {
		return
	}
	w.images.Clear(ctx)
	w.publish(ctx, observer.SessionEvent{EventType: observer.ImageCleared, Success: true})
}

func (w *Workspace) stopCameraLocked(ctx context.Context) {
	if !w.camera.IsOpen() {
		return
	}
	w.camera.Release()
	w.publish(ctx, observer.SessionEvent{EventType: observer.CameraClosed, Success: true})
}

func (w *Workspace) snapshotLocked() strategy.Snapshot {
	return strategy.Snapshot{
		HasImage: w.images.HasImage(),
		HasModel: w.model.Valid(),
		Status:   w.session.State().Status,
	}
}

func (w *Workspace) viewLocked() models.WorkspaceView {
	kind, img := w.images.Current()
	imageView := models.ImageView{Source: string(kind)}
	if img != nil {
		imageView.MIMEType = img.MIMEType
		imageView.PreviewHandle = img.PreviewHandle
		imageView.PreviewURL = w.urlPrefix + img.PreviewHandle
		imageView.FileName = img.FileName
		imageView.Width = img.Width
		imageView.Height = img.Height
		imageView.SizeBytes = img.Size()
	}

	cameraView := models.CameraView{Error: w.cameraErr}
	if stream := w.camera.Current(); stream != nil {
		cameraView.Open = true
		cameraView.FacingMode = string(stream.FacingMode())
		cameraView.Mirrored = stream.Mirrored()
	}

	state := w.session.State()
	analysisView := models.AnalysisView{
		Status:     string(state.Status),
		IsLoading:  state.Status == session.StatusLoading,
		Result:     state.Result,
		Generation: state.Generation,
	}
	if state.Error != "" {
		msg := state.Error
		analysisView.Error = &msg
	}

	return models.WorkspaceView{
		Model:    w.model,
		Image:    imageView,
		Camera:   cameraView,
		Analysis: analysisView,
		Trigger:  w.trigger.GetCurrentStrategy(),
	}
}

func (w *Workspace) publish(ctx context.Context, event observer.SessionEvent) {
	if w.events == nil {
		return
	}
	w.events.NotifyObservers(context.WithoutCancel(ctx), event)
}
