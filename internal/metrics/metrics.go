package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_algo_orders_total", Help: "Orders passed to the gateway, by outcome"},
		[]string{"symbol", "side", "type", "status"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_algo_errors_total", Help: "Errors reported to the journal"},
		[]string{"component"},
	)
	StrategiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_algo_strategies_total", Help: "Strategies created"},
		[]string{"kind"},
	)
	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trades_algo_registry_entries", Help: "Strategies currently held in the registry"},
	)
)

func init() {
	prometheus.MustRegister(OrdersTotal, ErrorsTotal, StrategiesTotal, RegistrySize)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
