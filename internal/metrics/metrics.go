package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keygate_validations_total",
			Help: "Credential validations by outcome",
		},
		[]string{"outcome"}, // valid|not_found|inactive|expired|error
	)

	CredentialsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keygate_credentials_issued_total",
			Help: "Credentials issued",
		},
	)

	StateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keygate_credential_state_changes_total",
			Help: "Administrative credential changes by action",
		},
		[]string{"action"}, // activate|deactivate|update|purge
	)

	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keygate_sweeps_total",
			Help: "Expiry sweeps by result",
		},
		[]string{"result"}, // completed|skipped|failed
	)

	SweepDeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keygate_sweep_deactivated_total",
			Help: "Credentials deactivated by expiry sweeps",
		},
	)

	SweepRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keygate_sweep_running",
			Help: "1 while an expiry sweep is in progress",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keygate_events_total",
			Help: "Credential events by delivery result",
		},
		[]string{"result"}, // published|dropped|failed|stored
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		ValidationsTotal,
		CredentialsIssuedTotal,
		StateChangesTotal,
		SweepsTotal,
		SweepDeactivatedTotal,
		SweepRunning,
		EventsTotal,
	)
}
