package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionEvent describes one change in the capture and analysis workflow
type SessionEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	Generation   uint64                 `json:"generation,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of session event
type EventType string

const (
	// AnalysisStarted when a session enters Loading
	AnalysisStarted EventType = "analysis_started"
	// AnalysisCompleted when a current run succeeds
	AnalysisCompleted EventType = "analysis_completed"
	// AnalysisFailed when a current run fails
	AnalysisFailed EventType = "analysis_failed"
	// AnalysisCancelled when a Loading session is reset
	AnalysisCancelled EventType = "analysis_cancelled"
	// AnalysisDiscarded when a late completion for a stale generation arrives
	AnalysisDiscarded EventType = "analysis_discarded"
	CameraOpened      EventType = "camera_opened"
	CameraClosed      EventType = "camera_closed"
	CameraFailed      EventType = "camera_failed"
	ImageSelected     EventType = "image_selected"
	ImageCleared      EventType = "image_cleared"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event SessionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event SessionEvent)
}

// LoggingObserver logs session events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event SessionEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.Generation > 0 {
		fields["generation"] = event.Generation
	}
	if event.Model != "" {
		fields["model"] = event.Model
	}
	if event.Duration > 0 {
		fields["duration"] = event.Duration
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case AnalysisStarted:
		entry.Info("Analysis started")
	case AnalysisCompleted:
		entry.Info("Analysis completed")
	case AnalysisFailed:
		entry.Warn("Analysis failed")
	case AnalysisCancelled:
		entry.Info("Analysis cancelled")
	case AnalysisDiscarded:
		entry.Debug("Stale analysis response discarded")
	case CameraFailed:
		entry.Warn("Camera unavailable")
	case CameraOpened, CameraClosed, ImageSelected, ImageCleared:
		entry.Debug("Workspace event")
	default:
		entry.Info("Session event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// Metrics is a point-in-time snapshot of MetricsObserver counters
type Metrics struct {
	TotalAnalyses      int64         `json:"total_analyses"`
	SuccessfulAnalyses int64         `json:"successful_analyses"`
	FailedAnalyses     int64         `json:"failed_analyses"`
	CancelledAnalyses  int64         `json:"cancelled_analyses"`
	DiscardedResponses int64         `json:"discarded_responses"`
	CameraFailures     int64         `json:"camera_failures"`
	TotalDuration      time.Duration `json:"total_duration_ns"`
	AvgDuration        time.Duration `json:"avg_duration_ns"`
}

// MetricsObserver collects counters from session events
type MetricsObserver struct {
	mu      sync.RWMutex
	metrics Metrics
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case AnalysisStarted:
		o.metrics.TotalAnalyses++
	case AnalysisCompleted:
		o.metrics.SuccessfulAnalyses++
		o.metrics.TotalDuration += event.Duration
	case AnalysisFailed:
		o.metrics.FailedAnalyses++
	case AnalysisCancelled:
		o.metrics.CancelledAnalyses++
	case AnalysisDiscarded:
		o.metrics.DiscardedResponses++
	case CameraFailed:
		o.metrics.CameraFailures++
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := o.metrics
	if m.SuccessfulAnalyses > 0 {
		m.AvgDuration = m.TotalDuration / time.Duration(m.SuccessfulAnalyses)
	}
	return m
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	inflight  sync.WaitGroup
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers event to every observer on its own goroutine
func (p *EventPublisher) NotifyObservers(ctx context.Context, event SessionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		p.inflight.Add(1)
		go func(obs Observer) {
			defer p.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Drain blocks until every delivery started so far has returned
func (p *EventPublisher) Drain() {
	p.inflight.Wait()
}
