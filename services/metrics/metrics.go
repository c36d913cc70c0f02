package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinkTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mzazilink", Name: "link_transitions_total", Help: "Guardian link state transitions",
	}, []string{"action"})
	LinkTransitionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzazilink", Name: "link_transition_errors_total", Help: "Rejected or failed link transitions",
	})
	IncidentsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mzazilink", Name: "incidents_total", Help: "Raised mislink incidents",
	}, []string{"severity"})
	RetentionsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzazilink", Name: "retentions_purged_total", Help: "Physically purged retention records",
	})
)

func init() {
	prometheus.MustRegister(LinkTransitions, LinkTransitionErrors, IncidentsRaised, RetentionsPurged)
}

func Handler() http.Handler { return promhttp.Handler() }
