package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot agriauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() agriauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectorCounters(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: agriauth.MetricsSnapshot{
			Counters: map[agriauth.MetricID]uint64{
				agriauth.MetricLoginSuccess:      7,
				agriauth.MetricMFADeliveryFailed: 2,
			},
			Histograms: map[agriauth.MetricID][]uint64{},
		},
		dropped: 3,
	})

	expected := `
# HELP agriauth_login_success_total Logins that issued a token without step-up.
# TYPE agriauth_login_success_total counter
agriauth_login_success_total 7
# HELP agriauth_mfa_delivery_failed_total Challenges no channel could deliver.
# TYPE agriauth_mfa_delivery_failed_total counter
agriauth_mfa_delivery_failed_total 2
# HELP agriauth_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE agriauth_audit_dropped_total counter
agriauth_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"agriauth_login_success_total", "agriauth_mfa_delivery_failed_total", internaldefs.AuditDroppedName)
	if err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}

	// every counter plus the dropped counter; no histograms without data
	if n := testutil.CollectAndCount(c); n != len(internaldefs.CounterDefs)+1 {
		t.Fatalf("expected %d series, got %d", len(internaldefs.CounterDefs)+1, n)
	}
}

func TestCollectorHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: agriauth.MetricsSnapshot{
			Counters: map[agriauth.MetricID]uint64{},
			Histograms: map[agriauth.MetricID][]uint64{
				agriauth.MetricValidateTokenLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	expected := `
# HELP agriauth_validate_token_latency_seconds Token validation latency histogram.
# TYPE agriauth_validate_token_latency_seconds histogram
agriauth_validate_token_latency_seconds_bucket{le="0.005"} 1
agriauth_validate_token_latency_seconds_bucket{le="0.01"} 3
agriauth_validate_token_latency_seconds_bucket{le="0.025"} 6
agriauth_validate_token_latency_seconds_bucket{le="0.05"} 10
agriauth_validate_token_latency_seconds_bucket{le="0.1"} 15
agriauth_validate_token_latency_seconds_bucket{le="0.25"} 21
agriauth_validate_token_latency_seconds_bucket{le="0.5"} 28
agriauth_validate_token_latency_seconds_bucket{le="+Inf"} 36
agriauth_validate_token_latency_seconds_sum 0
agriauth_validate_token_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "agriauth_validate_token_latency_seconds"); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}

func TestCollectorRegistersCleanly(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollectorFromSource(fakeSource{snapshot: agriauth.MetricsSnapshot{}})
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: agriauth.MetricsSnapshot{
			Counters: map[agriauth.MetricID]uint64{agriauth.MetricTokenIssued: 1},
		},
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agriauth_token_issued_total 1") {
		t.Fatalf("expected token counter in body, got:\n%s", rec.Body.String())
	}
}
