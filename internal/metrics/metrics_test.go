package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New("leader", "l1")
	m.SetSubordinates(2)
	m.Assignment("new")
	m.Forwarded(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`troops_subordinates{id="l1",role="leader"} 2`,
		`troops_assignments_accepted_total{id="l1",outcome="new",role="leader"} 1`,
		`troops_report_forward_failures_total{id="l1",role="leader"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetSubordinates(1)
	m.Evicted()
	m.Assignment("new")
	m.Artifact()
	m.Forwarded(true)
	m.Poll("ok")
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}
