package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesCounters(t *testing.T) {
	OrdersTotal.WithLabelValues("BTCUSDT", "BUY", "LIMIT", "NEW").Inc()
	StrategiesTotal.WithLabelValues("grid").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "trades_algo_orders_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("trades_algo_orders_total metric not found")
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "trades_algo_strategies_total") {
		t.Fatalf("expected strategies counter in exposition output")
	}
}
