package ratelimit

import (
	"testing"
	"time"
)

func testBreaker() (*Breaker, *time.Time) {
	current := time.Now()
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 0.5,
		MinSamples:       4,
		Window:           30 * time.Second,
		CoolDown:         10 * time.Second,
		HalfOpenProbes:   1,
	})
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreaker_OpensOnErrorRate(t *testing.T) {
	b, _ := testBreaker()

	b.Record("complete_task", true)
	b.Record("complete_task", false)
	b.Record("complete_task", false)
	if b.State("complete_task") != CircuitClosed {
		t.Fatal("breaker opened below the minimum sample size")
	}

	b.Record("complete_task", false)
	if b.State("complete_task") != CircuitOpen {
		t.Fatalf("state = %s, want open at 75%% failure rate", b.State("complete_task"))
	}
	if b.Allow("complete_task") {
		t.Error("open circuit admitted a call")
	}
}

func TestBreaker_HalfOpenProbeAndRecovery(t *testing.T) {
	b, current := testBreaker()

	for i := 0; i < 4; i++ {
		b.Record("list_tasks", false)
	}
	if b.State("list_tasks") != CircuitOpen {
		t.Fatal("breaker did not open")
	}

	// Cool-down elapses; exactly one probe is admitted.
	*current = current.Add(11 * time.Second)
	if !b.Allow("list_tasks") {
		t.Fatal("half-open denied the probe")
	}
	if b.State("list_tasks") != CircuitHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State("list_tasks"))
	}
	if b.Allow("list_tasks") {
		t.Error("half-open admitted a second call beyond the probe budget")
	}

	b.Record("list_tasks", true)
	if b.State("list_tasks") != CircuitClosed {
		t.Fatalf("state = %s, want closed after successful probe", b.State("list_tasks"))
	}
	if !b.Allow("list_tasks") {
		t.Error("closed circuit denied a call")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, current := testBreaker()

	for i := 0; i < 4; i++ {
		b.Record("delete_task", false)
	}
	*current = current.Add(11 * time.Second)
	b.Allow("delete_task")
	b.Record("delete_task", false)

	if b.State("delete_task") != CircuitOpen {
		t.Fatalf("state = %s, want open after failed probe", b.State("delete_task"))
	}
	if b.Allow("delete_task") {
		t.Error("reopened circuit admitted a call before cool-down")
	}
}

func TestBreaker_ToolsAreIndependent(t *testing.T) {
	b, _ := testBreaker()

	for i := 0; i < 4; i++ {
		b.Record("delete_task", false)
	}
	if !b.Allow("add_task") {
		t.Error("add_task circuit affected by delete_task failures")
	}
}

func TestBreaker_StateChangeObserver(t *testing.T) {
	b, _ := testBreaker()

	var transitions []CircuitState
	b.OnStateChange(func(tool string, state CircuitState) {
		transitions = append(transitions, state)
	})

	for i := 0; i < 4; i++ {
		b.Record("add_task", false)
	}
	if len(transitions) != 1 || transitions[0] != CircuitOpen {
		t.Errorf("transitions = %v, want single open transition", transitions)
	}
}
