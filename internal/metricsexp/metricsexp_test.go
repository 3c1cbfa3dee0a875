package metricsexp

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCountersAfterRecording(t *testing.T) {
	e := New()
	e.IncStart("web")
	e.IncRestart("web")
	e.SetRunning(1)
	e.SetSample("web", 12.5, 1024)
	e.RecordTransition("web", "pending", "running")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	e.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	for _, want := range []string{
		"pmcd_process_starts_total",
		"pmcd_process_restarts_total",
		"pmcd_process_running",
		"pmcd_process_cpu_percent",
		"pmcd_process_state_transitions_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestNewRegistersIndependentRegistryPerInstance(t *testing.T) {
	a := New()
	b := New()
	a.IncStart("x")

	reqA := httptest.NewRequest("GET", "/metrics", nil)
	rrA := httptest.NewRecorder()
	a.Handler().ServeHTTP(rrA, reqA)

	reqB := httptest.NewRequest("GET", "/metrics", nil)
	rrB := httptest.NewRecorder()
	b.Handler().ServeHTTP(rrB, reqB)

	if strings.Contains(rrB.Body.String(), `name="x"`) {
		t.Fatalf("expected b's registry to be independent of a's")
	}
	_ = rrA
}
