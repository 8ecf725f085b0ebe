package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-confirm",
		Operation:   "confirm",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("confirm")
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
	if got := tracker.Operations(); len(got) != 1 || got[0] != "confirm" {
		t.Fatalf("operations = %v", got)
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-propose",
		Operation:   "propose",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "propose", Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status("propose")
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-sweep",
		Operation:   "sweep",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// 90% success is below the 99% target.
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "sweep", Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "sweep", Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("sweep")
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-message",
		Operation:   "message",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 1,
	})

	// 5% error rate burns the budget at 5x.
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: "message", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "message", Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("message")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
	if status.ErrorBudgetLeft != 0 {
		t.Fatalf("expected exhausted budget, got %.2f", status.ErrorBudgetLeft)
	}
}

func TestSLOPerfectTargetBudget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-decline",
		Operation:   "decline",
		LatencyP99:  time.Second,
		SuccessRate: 1.0,
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{Operation: "decline", Latency: time.Millisecond, Success: true})
	status, _ := tracker.Status("decline")
	if status.ErrorBudgetLeft != 100.0 {
		t.Fatalf("budget = %.2f, want 100", status.ErrorBudgetLeft)
	}

	tracker.Record(SLOObservation{Operation: "decline", Latency: time.Millisecond, Success: false})
	status, _ = tracker.Status("decline")
	if status.ErrorBudgetLeft != 0 {
		t.Fatalf("budget = %.2f, want 0 after any failure", status.ErrorBudgetLeft)
	}
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOWindowExcludesOldObservations(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-confirm",
		Operation:   "confirm",
		LatencyP99:  time.Second,
		SuccessRate: 0.9,
		WindowHours: 1,
	})

	tracker.Record(SLOObservation{
		Operation: "confirm",
		Latency:   time.Millisecond,
		Success:   false,
		Timestamp: now.Add(-2 * time.Hour),
	})
	tracker.Record(SLOObservation{
		Operation: "confirm",
		Latency:   time.Millisecond,
		Success:   true,
		Timestamp: now.Add(-time.Minute),
	})

	status, err := tracker.Status("confirm")
	if err != nil {
		t.Fatal(err)
	}
	if status.ObservationCount != 1 {
		t.Fatalf("count = %d, the stale failure must fall outside the window", status.ObservationCount)
	}
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	if _, err := tracker.Status("nonexistent"); err == nil {
		t.Fatal("expected error for missing target")
	}
}
