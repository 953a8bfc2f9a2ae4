package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "search_chat",
	Subsystem: "store",
	Name:      "operations_total",
	Help:      "Conversation store operations by operation and result.",
}, []string{"operation", "result"})

const (
	resultOK        = "ok"
	resultError     = "error"
	resultAnonymous = "anonymous"
	resultNotFound  = "not_found"
	resultCacheHit  = "cache_hit"
)

func observe(operation, result string) {
	storeOperations.WithLabelValues(operation, result).Inc()
}
