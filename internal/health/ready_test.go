package health

import "testing"

func TestProbeStartsLoading(t *testing.T) {
	p := NewProbe()
	if p.State() != StateLoading {
		t.Fatalf("initial state %v, want loading", p.State())
	}
	if p.Ready() {
		t.Fatalf("ready while loading")
	}
	if p.AcceptsIngest() {
		t.Fatalf("ingest accepted while loading")
	}
}

func TestReadyAfterLoad(t *testing.T) {
	p := NewProbe()
	if !p.SetReady() {
		t.Fatalf("transition to ready rejected")
	}
	if !p.Ready() || !p.AcceptsIngest() {
		t.Fatalf("not available after SetReady")
	}
}

func TestDegradedStillAvailable(t *testing.T) {
	p := NewProbe()
	p.SetDegraded()
	if p.State() != StateDegraded {
		t.Fatalf("state %v, want degraded", p.State())
	}
	if !p.Ready() || !p.AcceptsIngest() {
		t.Fatalf("degraded must still report available")
	}
}

func TestFailedIsTerminal(t *testing.T) {
	p := NewProbe()
	p.SetFailed()
	if p.Ready() || p.AcceptsIngest() {
		t.Fatalf("failed probe reports available")
	}
	if p.SetReady() {
		t.Fatalf("failed probe transitioned to ready")
	}
	if p.State() != StateFailed {
		t.Fatalf("state %v, want failed", p.State())
	}
}

func TestTransitionsOnlyFromLoading(t *testing.T) {
	p := NewProbe()
	p.SetReady()
	if p.SetDegraded() || p.SetFailed() {
		t.Fatalf("transition taken from non-loading state")
	}
	if p.State() != StateReady {
		t.Fatalf("state %v, want ready", p.State())
	}
}

func TestResetReturnsToLoading(t *testing.T) {
	p := NewProbe()
	p.SetFailed()
	p.Reset()
	if p.State() != StateLoading {
		t.Fatalf("state %v after reset, want loading", p.State())
	}
	if !p.SetReady() {
		t.Fatalf("transition rejected after reset")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateLoading:  "loading",
		StateReady:    "ready",
		StateDegraded: "degraded",
		StateFailed:   "failed",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
