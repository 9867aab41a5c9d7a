package engine

import (
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	protocolFees *prometheus.CounterVec
	pools        prometheus.Gauge
}

// NewMetrics creates and registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Pool operations by operation, pool kind and result code.",
			},
			[]string{"op", "kind", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "amm",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Time spent inside a pool operation, including lock wait.",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"op"},
		),
		protocolFees: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "engine",
				Name:      "protocol_fees_total",
				Help:      "Protocol and withdrawal fees routed to the bank, in native token units.",
			},
			[]string{"token"},
		),
		pools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "amm",
			Subsystem: "engine",
			Name:      "pools",
			Help:      "Number of pools created.",
		}),
	}
}

// resultLabel is "ok" for success and the registered error code otherwise.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	_, code, _ := errorsmod.ABCIInfo(err, false)
	return strconv.FormatUint(uint64(code), 10)
}
