package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"neuroface-id/internal/analysis"
	"neuroface-id/internal/camera"
	"neuroface-id/internal/encoder"
	apperrors "neuroface-id/internal/errors"
	"neuroface-id/internal/observer"
	"neuroface-id/internal/storage"
	"neuroface-id/internal/strategy"
	"neuroface-id/pkg/models"
	"neuroface-id/pkg/validation"
)

// fakeClient blocks on release (when set) and honours ctx only if cancellable is set
type fakeClient struct {
	mu          sync.Mutex
	calls       int
	models      []models.Architecture
	result      *models.AnalysisResult
	err         error
	release     chan struct{}
	cancellable bool
	cancelled   int
	started     chan struct{}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Analyze(ctx context.Context, img *models.CapturedImage, arch models.Architecture) (*models.AnalysisResult, error) {
	f.mu.Lock()
	f.calls++
	f.models = append(f.models, arch)
	release, started, failure := f.release, f.started, f.err
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		if f.cancellable {
			select {
			case <-release:
			case <-ctx.Done():
				f.mu.Lock()
				f.cancelled++
				f.mu.Unlock()
				return nil, ctx.Err()
			}
		} else {
			<-release
		}
	}
	if failure != nil {
		return nil, failure
	}
	copied := *f.result
	return &copied, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDevice struct{ closed bool }

func (d *fakeDevice) ReadFrame() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	return img, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fakeDriver struct {
	err     error
	devices []*fakeDevice
}

func (f *fakeDriver) Open(ctx context.Context, facing camera.FacingMode, cfg camera.Config) (camera.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDevice{}
	f.devices = append(f.devices, d)
	return d, nil
}

type fixture struct {
	ws       *Workspace
	client   *fakeClient
	driver   *fakeDriver
	previews *storage.MemoryStore
	events   *observer.EventPublisher
	metrics  *observer.MetricsObserver
}

func newFixture(t *testing.T, client analysis.Client, trigger strategy.TriggerStrategy) *fixture {
	t.Helper()
	driver := &fakeDriver{}
	previews := storage.NewMemoryStore(0)
	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)

	ws := New(Dependencies{
		Camera:       camera.NewAdapter(driver, camera.Config{}),
		Encoder:      encoder.New(encoder.Options{}),
		Previews:     previews,
		Client:       client,
		Trigger:      trigger,
		Validator:    validation.NewImageValidator(1 << 20),
		Events:       events,
		DefaultModel: models.ArchitectureViT,
	})
	t.Cleanup(func() { ws.Close(context.Background()) })

	f := &fixture{ws: ws, driver: driver, previews: previews, events: events, metrics: metrics}
	if fc, ok := client.(*fakeClient); ok {
		f.client = fc
	}
	return f
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

func catResult() *models.AnalysisResult {
	return &models.AnalysisResult{PredictedClass: "cat", Confidence: "97.3%"}
}

func TestUploadImage_PreviewResolvesBeforeAnyNetworkCall(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)
	ctx := context.Background()

	view, err := f.ws.UploadImage(ctx, "portrait.jpg", testJPEG(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if view.Image.Source != "uploaded" || view.Image.MIMEType != models.MIMETypeJPEG {
		t.Errorf("Unexpected image view %+v", view.Image)
	}
	if view.Image.Width != 16 || view.Image.Height != 12 {
		t.Errorf("Expected 16x12, got %dx%d", view.Image.Width, view.Image.Height)
	}
	if view.Image.PreviewURL != DefaultPreviewURLPrefix+view.Image.PreviewHandle {
		t.Errorf("Unexpected preview URL %q", view.Image.PreviewURL)
	}
	if _, err := f.ws.Preview(ctx, view.Image.PreviewHandle); err != nil {
		t.Fatalf("Expected preview to resolve, got %v", err)
	}
	if f.client.callCount() != 0 {
		t.Error("Expected no analysis call under the explicit trigger")
	}
	if view.Analysis.Status != "idle" {
		t.Errorf("Expected idle session, got %s", view.Analysis.Status)
	}
}

func TestUploadImage_RejectsUnsupportedContent(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)

	_, err := f.ws.UploadImage(context.Background(), "notes.txt", []byte("hello"))
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if f.ws.View().Image.Source != "none" {
		t.Error("Expected no image after rejected upload")
	}
}

func TestRunAnalysis_NoImageIsNoOp(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)

	view, err := f.ws.RunAnalysis(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f.ws.Wait()

	if view.Analysis.Status != "idle" || view.Analysis.IsLoading {
		t.Errorf("Expected idle, got %+v", view.Analysis)
	}
	if f.client.callCount() != 0 {
		t.Error("Expected client not to be called")
	}
}

func TestRunAnalysis_SucceedsThroughLoading(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, &fakeClient{result: catResult(), release: release}, nil)
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	view, _ := f.ws.RunAnalysis(ctx)
	if !view.Analysis.IsLoading || view.Analysis.Status != "loading" {
		t.Fatalf("Expected Loading right after trigger, got %+v", view.Analysis)
	}

	again, _ := f.ws.RunAnalysis(ctx)
	if again.Analysis.Generation != view.Analysis.Generation {
		t.Error("Expected second trigger during Loading to be ignored")
	}

	close(release)
	f.ws.Wait()

	final := f.ws.View()
	if final.Analysis.Status != "succeeded" || final.Analysis.Result.PredictedClass != "cat" {
		t.Errorf("Expected Succeeded(cat), got %+v", final.Analysis)
	}
	if f.client.callCount() != 1 {
		t.Errorf("Expected exactly one call, got %d", f.client.callCount())
	}
}

func TestRunAnalysis_ResNetClassificationEndToEnd(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ModelArch string `json:"modelArch"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.ModelArch
		w.Write([]byte(`{"predictedClass":"cat","confidence":"97.3%","features":["whiskers","fur texture","pointed ears"],"architecturalInsight":"Residual blocks preserve low-level edge features."}`))
	}))
	defer server.Close()

	client := analysis.NewHTTPClient(analysis.HTTPClientOptions{Endpoint: server.URL, Timeout: time.Second})
	f := newFixture(t, client, nil)
	ctx := context.Background()

	if _, err := f.ws.SelectModel(ctx, "ResNet-152"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	f.ws.Wait()

	view := f.ws.View()
	if view.Analysis.Status != "succeeded" {
		t.Fatalf("Expected succeeded, got %+v", view.Analysis)
	}
	result := view.Analysis.Result
	if result.PredictedClass != "cat" || result.Confidence != "97.3%" {
		t.Errorf("Unexpected result %+v", result)
	}
	if !reflect.DeepEqual(result.Features, []string{"whiskers", "fur texture", "pointed ears"}) {
		t.Errorf("Unexpected features %v", result.Features)
	}
	if result.ArchitecturalInsight != "Residual blocks preserve low-level edge features." {
		t.Errorf("Unexpected insight %q", result.ArchitecturalInsight)
	}
	if gotModel != "ResNet-152" {
		t.Errorf("Expected ResNet-152 to be sent, got %q", gotModel)
	}
}

func TestRunAnalysis_ServerErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer server.Close()

	client := analysis.NewHTTPClient(analysis.HTTPClientOptions{Endpoint: server.URL, Timeout: time.Second})
	f := newFixture(t, client, nil)
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	f.ws.Wait()

	view := f.ws.View()
	if view.Analysis.Status != "failed" || view.Analysis.Error == nil || *view.Analysis.Error != "model overloaded" {
		t.Errorf("Expected Failed(model overloaded), got %+v", view.Analysis)
	}
	if view.Analysis.Result != nil {
		t.Error("Expected no result on failure")
	}
}

func TestRunAnalysis_TryAgainAfterFailure(t *testing.T) {
	client := &fakeClient{result: catResult(), err: apperrors.NewAnalysisError("model overloaded", nil)}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	uploaded, _ := f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	f.ws.Wait()
	if view := f.ws.View(); view.Analysis.Status != "failed" {
		t.Fatalf("Expected failed first run, got %+v", view.Analysis)
	}

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	f.ws.RunAnalysis(ctx)
	f.ws.Wait()

	view := f.ws.View()
	if view.Analysis.Status != "succeeded" || view.Analysis.Error != nil {
		t.Fatalf("Expected succeeded after retry, got %+v", view.Analysis)
	}
	if got := client.callCount(); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
	if view.Image.PreviewHandle != uploaded.Image.PreviewHandle {
		t.Errorf("Expected the same image to be re-sent, handle %q became %q",
			uploaded.Image.PreviewHandle, view.Image.PreviewHandle)
	}
	if !reflect.DeepEqual(client.models, []models.Architecture{models.ArchitectureViT, models.ArchitectureViT}) {
		t.Errorf("Expected the same model for both runs, got %v", client.models)
	}
}

func TestClearImage_LateResponseIsIgnored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &fakeClient{result: catResult(), release: release, started: started}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	<-started

	cleared := f.ws.ClearImage(ctx)
	if cleared.Analysis.Status != "idle" || cleared.Image.Source != "none" {
		t.Fatalf("Expected idle with no image after clear, got %+v", cleared)
	}

	close(release)
	f.ws.Wait()

	view := f.ws.View()
	if view.Analysis.Status != "idle" || view.Analysis.Result != nil {
		t.Errorf("Expected late response to be unobserved, got %+v", view.Analysis)
	}
	f.events.Drain()
	if f.metrics.GetMetrics().DiscardedResponses != 1 {
		t.Errorf("Expected one discarded response, got %+v", f.metrics.GetMetrics())
	}
}

func TestClearImage_CancelsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)
	client := &fakeClient{result: catResult(), release: release, started: started, cancellable: true}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	<-started
	f.ws.ClearImage(ctx)
	f.ws.Wait()

	client.mu.Lock()
	cancelled := client.cancelled
	client.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("Expected in-flight request to be cancelled, got %d", cancelled)
	}
	if f.ws.View().Analysis.Status != "idle" {
		t.Error("Expected session to stay idle")
	}
}

func TestNewUploadSupersedesRunningAnalysis(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &fakeClient{result: catResult(), release: release, started: started}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	first, _ := f.ws.UploadImage(ctx, "a.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	<-started

	second, _ := f.ws.UploadImage(ctx, "b.jpg", testJPEG(t))
	close(release)
	f.ws.Wait()

	if _, err := f.ws.Preview(ctx, first.Image.PreviewHandle); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected superseded preview to be released, got %v", err)
	}
	view := f.ws.View()
	if view.Image.PreviewHandle != second.Image.PreviewHandle || view.Analysis.Status != "idle" {
		t.Errorf("Expected second image idle, got %+v", view)
	}
}

func TestStartCamera_DiscardsExistingImage(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)
	ctx := context.Background()

	uploaded, _ := f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	view, err := f.ws.StartCamera(ctx, "user")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !view.Camera.Open || !view.Camera.Mirrored || view.Camera.FacingMode != "user" {
		t.Errorf("Expected open mirrored front camera, got %+v", view.Camera)
	}
	if view.Image.Source != "none" {
		t.Errorf("Expected image to be discarded, got %+v", view.Image)
	}
	if _, err := f.ws.Preview(ctx, uploaded.Image.PreviewHandle); err == nil {
		t.Error("Expected previous preview handle to be released")
	}
	if f.previews.Len() != 0 {
		t.Errorf("Expected no leaked previews, got %d", f.previews.Len())
	}
}

func TestStartCamera_PermissionDenied(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)
	f.driver.err = camera.ErrPermissionDenied

	view, err := f.ws.StartCamera(context.Background(), "")
	if !apperrors.IsType(err, apperrors.ErrorTypeCamera) {
		t.Fatalf("Expected camera error, got %v", err)
	}
	if view.Camera.Open {
		t.Error("Expected camera to remain closed")
	}
	if view.Camera.Error == "" {
		t.Error("Expected camera error message in view")
	}
	if view.Image.Source != "none" {
		t.Error("Expected image source to remain unset")
	}

	f.driver.err = nil
	retried, err := f.ws.StartCamera(context.Background(), "")
	if err != nil || retried.Camera.Error != "" {
		t.Errorf("Expected retry to clear the camera error, got %+v (%v)", retried.Camera, err)
	}
}

func TestCapturePhoto(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)
	ctx := context.Background()

	if _, err := f.ws.CapturePhoto(ctx); !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Fatalf("Expected conflict without open camera, got %v", err)
	}

	f.ws.StartCamera(ctx, "environment")
	view, err := f.ws.CapturePhoto(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if view.Image.Source != "captured" || view.Image.MIMEType != models.MIMETypeJPEG {
		t.Errorf("Unexpected image %+v", view.Image)
	}
	if view.Image.FileName != encoder.CaptureFileName {
		t.Errorf("Expected capture file name, got %q", view.Image.FileName)
	}
	if view.Camera.Open {
		t.Error("Expected camera to be released after capture")
	}
	if !f.driver.devices[0].closed {
		t.Error("Expected device to be closed")
	}
	preview, err := f.ws.Preview(ctx, view.Image.PreviewHandle)
	if err != nil || preview.MIMEType != models.MIMETypeJPEG {
		t.Errorf("Expected JPEG preview, got %v", err)
	}
}

func TestPreviewFrame(t *testing.T) {
	f := newFixture(t, &fakeClient{result: catResult()}, nil)

	if _, err := f.ws.PreviewFrame(); err == nil {
		t.Error("Expected error without open camera")
	}
	f.ws.StartCamera(context.Background(), "user")
	frame, err := f.ws.PreviewFrame()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(frame)); err != nil {
		t.Errorf("Expected JPEG frame, got %v", err)
	}
}

func TestSelectModel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &fakeClient{result: catResult(), release: release, started: started}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	if _, err := f.ws.SelectModel(ctx, "alexnet"); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error for unknown model, got %v", err)
	}

	uploaded, _ := f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	<-started

	if _, err := f.ws.SelectModel(ctx, "resnet"); !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Errorf("Expected conflict while loading, got %v", err)
	}

	close(release)
	f.ws.Wait()

	view, err := f.ws.SelectModel(ctx, "EfficientNet-B7")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if view.Model != models.ArchitectureEfficientNet {
		t.Errorf("Expected EfficientNet, got %q", view.Model)
	}
	if view.Analysis.Status != "idle" || view.Analysis.Result != nil {
		t.Errorf("Expected result to be dropped, got %+v", view.Analysis)
	}
	if view.Image.PreviewHandle != uploaded.Image.PreviewHandle {
		t.Error("Expected image to be preserved across model change")
	}
}

func TestAutoTrigger(t *testing.T) {
	client := &fakeClient{err: apperrors.NewAnalysisError("model overloaded", nil)}
	f := newFixture(t, client, strategy.NewAutoTriggerStrategy())
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.Wait()

	view := f.ws.View()
	if view.Analysis.Status != "failed" {
		t.Fatalf("Expected upload to auto-trigger a run, got %+v", view.Analysis)
	}

	// A failure must not re-trigger by itself
	f.ws.SelectModel(ctx, "ResNet-152")
	f.ws.Wait()
	if got := client.callCount(); got != 2 {
		t.Errorf("Expected model change from Failed to run once more, got %d calls", got)
	}
	view = f.ws.View()
	f.ws.SelectModel(ctx, "ResNet-152")
	f.ws.Wait()
	if client.callCount() != 2 {
		t.Errorf("Expected no re-trigger without a change, got %d calls", client.callCount())
	}
	if view.Trigger != "auto" {
		t.Errorf("Expected auto trigger in view, got %q", view.Trigger)
	}
}

func TestClose(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &fakeClient{result: catResult(), release: release, started: started, cancellable: true}
	defer close(release)
	f := newFixture(t, client, nil)
	ctx := context.Background()

	f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t))
	f.ws.RunAnalysis(ctx)
	<-started
	f.ws.Close(ctx)

	if f.previews.Len() != 0 {
		t.Error("Expected preview to be released on close")
	}
	if _, err := f.ws.UploadImage(ctx, "cat.jpg", testJPEG(t)); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
