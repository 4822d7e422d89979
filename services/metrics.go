package services

import "github.com/prometheus/client_golang/prometheus"

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labscope_analyses_total",
			Help: "Anzahl der Befundanalysen nach Report-Status.",
		},
		[]string{"status"},
	)
	lookupOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labscope_lookup_outcomes_total",
			Help: "Ergebnisse der Referenz-Lookups je Stufe.",
		},
		[]string{"tier", "kind"},
	)
	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labscope_extractions_total",
			Help: "Verwendete Extraktionsstrategie je Upload.",
		},
		[]string{"strategy"},
	)
	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labscope_results_total",
			Help: "Klassifizierte Testergebnisse nach Status und Quelle.",
		},
		[]string{"status", "source"},
	)
)

func init() {
	prometheus.MustRegister(analysesTotal, lookupOutcomesTotal, extractionsTotal, resultsTotal)
}
