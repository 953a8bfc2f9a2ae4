package finalizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search_chat",
		Subsystem: "finalizer",
		Name:      "finalize_duration_seconds",
		Help:      "Duration of turn finalization by result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	relatedQuestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search_chat",
		Subsystem: "finalizer",
		Name:      "related_questions_total",
		Help:      "Related-questions generation attempts by result.",
	}, []string{"result"})
)

const (
	resultOK       = "ok"
	resultError    = "error"
	resultSkipped  = "skipped"
	resultEmpty    = "empty"
	resultPanic    = "panic"
	resultSaveFail = "save_error"
	resultDisabled = "disabled"
)
