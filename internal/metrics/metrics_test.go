package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Signin("password", OutcomeSuccess)
	m.Signin("password", OutcomeInvalid)
	m.Signin("password", OutcomeInvalid)
	m.GrantIssued("bearer")
	m.GrantRevoked("refresh")

	if got := testutil.ToFloat64(m.signins.WithLabelValues("password", OutcomeInvalid)); got != 2 {
		t.Errorf("invalid signins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.grantsIssued.WithLabelValues("bearer")); got != 1 {
		t.Errorf("issued = %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 4 {
		t.Errorf("gathered %d series, want 4", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Signin("record", OutcomeError)
	m.GrantIssued("bearer")
	m.GrantRevoked("bearer")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic registering counters twice")
		}
	}()
	New(reg)
}
