package strategy

import (
	"testing"

	"neuroface-id/internal/session"
)

func TestTriggerStrategies(t *testing.T) {
	ready := Snapshot{HasImage: true, HasModel: true, Status: session.StatusIdle}

	tests := []struct {
		name         string
		strategy     TriggerStrategy
		snapshot     Snapshot
		wantOnChange bool
		wantExplicit bool
	}{
		{"explicit idle", NewExplicitTriggerStrategy(), ready, false, true},
		{"explicit no image", NewExplicitTriggerStrategy(), Snapshot{HasModel: true, Status: session.StatusIdle}, false, false},
		{"explicit loading", NewExplicitTriggerStrategy(), Snapshot{HasImage: true, HasModel: true, Status: session.StatusLoading}, false, false},
		{"explicit retry after failure", NewExplicitTriggerStrategy(), Snapshot{HasImage: true, HasModel: true, Status: session.StatusFailed}, false, true},
		{"auto idle", NewAutoTriggerStrategy(), ready, true, true},
		{"auto no model", NewAutoTriggerStrategy(), Snapshot{HasImage: true, Status: session.StatusIdle}, false, false},
		{"auto after failure does not loop", NewAutoTriggerStrategy(), Snapshot{HasImage: true, HasModel: true, Status: session.StatusFailed}, false, true},
		{"auto after success", NewAutoTriggerStrategy(), Snapshot{HasImage: true, HasModel: true, Status: session.StatusSucceeded}, false, true},
		{"auto loading", NewAutoTriggerStrategy(), Snapshot{HasImage: true, HasModel: true, Status: session.StatusLoading}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.strategy.ShouldRunOnChange(tt.snapshot); got != tt.wantOnChange {
				t.Errorf("ShouldRunOnChange = %v, want %v", got, tt.wantOnChange)
			}
			if got := tt.strategy.AllowsExplicitRun(tt.snapshot); got != tt.wantExplicit {
				t.Errorf("AllowsExplicitRun = %v, want %v", got, tt.wantExplicit)
			}
		})
	}
}

func TestNewTriggerStrategy(t *testing.T) {
	for name, want := range map[string]string{"": "explicit", "explicit": "explicit", "auto": "auto"} {
		s, err := NewTriggerStrategy(name)
		if err != nil {
			t.Fatalf("Unexpected error for %q: %v", name, err)
		}
		if s.GetStrategyName() != want {
			t.Errorf("Expected %s for %q, got %s", want, name, s.GetStrategyName())
		}
	}
	if _, err := NewTriggerStrategy("eager"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestTriggerContext_SetStrategy(t *testing.T) {
	c := NewTriggerContext(NewExplicitTriggerStrategy())
	ready := Snapshot{HasImage: true, HasModel: true, Status: session.StatusIdle}

	if c.ShouldRunOnChange(ready) {
		t.Error("Expected explicit strategy not to auto-run")
	}
	c.SetStrategy(NewAutoTriggerStrategy())
	if !c.ShouldRunOnChange(ready) || c.GetCurrentStrategy() != "auto" {
		t.Error("Expected auto strategy after SetStrategy")
	}
}
