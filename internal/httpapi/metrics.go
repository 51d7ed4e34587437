package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// operationMetrics counts credit operations by outcome. Each server carries
// its own registry so parallel test servers never fight over registration.
type operationMetrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

func newOperationMetrics() *operationMetrics {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creditledger",
		Name:      "operations_total",
		Help:      "Credit ledger operations by operation and status.",
	}, []string{"operation", "status"})
	registry.MustRegister(operations)
	registry.MustRegister(collectors.NewGoCollector())
	return &operationMetrics{
		registry:   registry,
		operations: operations,
	}
}

func (metrics *operationMetrics) observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.operations.WithLabelValues(operation, status).Inc()
}
