package container

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"neuroface-id/internal/analysis"
	"neuroface-id/internal/camera"
	"neuroface-id/internal/camera/cvdriver"
	"neuroface-id/internal/config"
	"neuroface-id/internal/encoder"
	"neuroface-id/internal/factory"
	"neuroface-id/internal/logger"
	"neuroface-id/internal/observer"
	"neuroface-id/internal/storage"
	"neuroface-id/internal/transport"
	"neuroface-id/internal/workspace"
	"neuroface-id/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	client    analysis.Client
	previews  storage.PreviewStore
	events    *observer.EventPublisher
	metrics   *observer.MetricsObserver
	workspace *workspace.Workspace
	handler   http.Handler
}

// NewContainer wires the capture pipeline against the host camera
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	driver := cvdriver.New(cfg.CameraDevice, cfg.CameraRearDevice)
	return NewContainerWithDriver(ctx, cfg, driver)
}

// NewContainerWithDriver is NewContainer with an explicit camera driver
func NewContainerWithDriver(ctx context.Context, cfg *config.Config, driver camera.Driver) (*Container, error) {
	return newContainer(ctx, cfg, driver, factory.NewComponentFactory(cfg))
}

func newContainer(ctx context.Context, cfg *config.Config, driver camera.Driver, components *factory.ComponentFactory) (*Container, error) {
	client, err := components.ClientFactory.CreateClient(ctx, factory.ClientType(cfg.AnalysisBackend))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}

	previews, err := components.StoreFactory.CreateStore(ctx, factory.StoreType(cfg.PreviewStore))
	if err != nil {
		closeQuietly(client)
		return nil, fmt.Errorf("failed to create preview store: %w", err)
	}

	trigger, err := components.CreateTrigger(cfg.TriggerMode)
	if err != nil {
		closeQuietly(client)
		closeQuietly(previews)
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	enc := encoder.New(encoder.Options{
		Quality:        cfg.CaptureQuality,
		PreviewQuality: encoder.DefaultOptions().PreviewQuality,
		FlashDelay:     cfg.CaptureFlashDelay,
		MaxDimension:   cfg.CaptureMaxDimension,
	})

	ws := workspace.New(workspace.Dependencies{
		Camera:       camera.NewAdapter(driver, camera.Config{Width: cfg.CameraWidth, Height: cfg.CameraHeight}),
		Encoder:      enc,
		Previews:     previews,
		Client:       client,
		Trigger:      trigger,
		Validator:    validation.NewImageValidator(cfg.MaxRequestBodySize),
		Events:       events,
		DefaultModel: cfg.DefaultModel,
	})

	logger.WithComponent("container").WithField("backend", client.Name()).
		WithField("preview_store", cfg.PreviewStore).
		WithField("trigger", trigger.GetStrategyName()).
		Info("Dependencies initialized")

	return &Container{
		config:    cfg,
		client:    client,
		previews:  previews,
		events:    events,
		metrics:   metrics,
		workspace: ws,
		handler:   transport.NewHandler(ws, metrics, cfg),
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Workspace returns the capture and analysis workspace
func (c *Container) Workspace() *workspace.Workspace {
	return c.workspace
}

// Metrics returns the session counters
func (c *Container) Metrics() observer.Metrics {
	return c.metrics.GetMetrics()
}

// Close releases the camera, cancels in-flight analysis and flushes events
func (c *Container) Close(ctx context.Context) {
	c.workspace.Close(ctx)
	c.events.Drain()
	closeQuietly(c.client)
	closeQuietly(c.previews)
}

func closeQuietly(v interface{}) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.WithError(err).Warn("Error closing component")
	}
}
