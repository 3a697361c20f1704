// Package session tracks the lifecycle of one analysis attempt at a time.
//
// Every Begin issues a Ticket carrying a new generation. A completion is
// applied only while its generation is still current and the session is
// Loading; anything else is a late response and is discarded.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"neuroface-id/internal/observer"
	"neuroface-id/pkg/models"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrAlreadyLoading = errors.New("an analysis is already in progress")

// State is an immutable snapshot of the session
type State struct {
	Status      Status
	Result      *models.AnalysisResult
	Error       string
	Generation  uint64
	Model       models.Architecture
	StartedAt   time.Time
	CompletedAt time.Time
}

// Ticket identifies one Loading run
type Ticket struct {
	Generation uint64
	Model      models.Architecture
	StartedAt  time.Time
}

type Machine struct {
	mu         sync.Mutex
	state      State
	generation uint64
	events     observer.Subject
}

// NewMachine creates an Idle session. events may be nil.
func NewMachine(events observer.Subject) *Machine {
	return &Machine{state: State{Status: StatusIdle}, events: events}
}

// Begin moves to Loading for model
func (m *Machine) Begin(ctx context.Context, model models.Architecture) (Ticket, error) {
	m.mu.Lock()
	if m.state.Status == StatusLoading {
		m.mu.Unlock()
		return Ticket{}, ErrAlreadyLoading
	}

	m.generation++
	ticket := Ticket{Generation: m.generation, Model: model, StartedAt: time.Now()}
	m.state = State{
		Status:     StatusLoading,
		Generation: ticket.Generation,
		Model:      model,
		StartedAt:  ticket.StartedAt,
	}
	m.mu.Unlock()

	m.publish(ctx, observer.SessionEvent{
		EventType:  observer.AnalysisStarted,
		Generation: ticket.Generation,
		Model:      model.String(),
	})
	return ticket, nil
}

// Succeed applies result if ticket is still current. It reports whether it did.
func (m *Machine) Succeed(ctx context.Context, ticket Ticket, result *models.AnalysisResult) bool {
	return m.complete(ctx, ticket, func(s *State) {
		s.Status = StatusSucceeded
		s.Result = result
	}, observer.AnalysisCompleted, "")
}

// Fail applies message if ticket is still current. It reports whether it did.
func (m *Machine) Fail(ctx context.Context, ticket Ticket, message string) bool {
	return m.complete(ctx, ticket, func(s *State) {
		s.Status = StatusFailed
		s.Error = message
	}, observer.AnalysisFailed, message)
}

func (m *Machine) complete(ctx context.Context, ticket Ticket, apply func(*State), eventType observer.EventType, message string) bool {
	m.mu.Lock()
	if m.state.Status != StatusLoading || m.state.Generation != ticket.Generation {
		current := m.state.Generation
		m.mu.Unlock()

		m.publish(ctx, observer.SessionEvent{
			EventType:    observer.AnalysisDiscarded,
			Generation:   ticket.Generation,
			Model:        ticket.Model.String(),
			ErrorMessage: message,
			Metadata:     map[string]interface{}{"current_generation": current},
		})
		return false
	}

	now := time.Now()
	apply(&m.state)
	m.state.CompletedAt = now
	m.mu.Unlock()

	m.publish(ctx, observer.SessionEvent{
		EventType:    eventType,
		Generation:   ticket.Generation,
		Model:        ticket.Model.String(),
		Duration:     now.Sub(ticket.StartedAt),
		Success:      eventType == observer.AnalysisCompleted,
		ErrorMessage: message,
	})
	return true
}

// Reset returns to Idle and invalidates any outstanding ticket
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	wasLoading := m.state.Status == StatusLoading
	previous := m.state
	m.generation++
	m.state = State{Status: StatusIdle, Generation: m.generation}
	m.mu.Unlock()

	if wasLoading {
		m.publish(ctx, observer.SessionEvent{
			EventType:  observer.AnalysisCancelled,
			Generation: previous.Generation,
			Model:      previous.Model.String(),
			Duration:   time.Since(previous.StartedAt),
		})
	}
}

// State returns a snapshot
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) IsLoading() bool {
	return m.State().Status == StatusLoading
}

// HasOutcome reports a result or an error is present
func (m *Machine) HasOutcome() bool {
	s := m.State().Status
	return s == StatusSucceeded || s == StatusFailed
}

func (m *Machine) publish(ctx context.Context, event observer.SessionEvent) {
	if m.events == nil {
		return
	}
	m.events.NotifyObservers(context.WithoutCancel(ctx), event)
}
