// Package telemetry emits verification events as Prometheus metrics (spec §2 "Telemetry
// hooks", §7 "a verification event is emitted on every terminal outcome").
//
// The teacher's go.mod already requires prometheus/client_golang but no package under
// pkg/ ever imports it; this package is where that dependency actually gets exercised,
// wired the way the rest of the corpus wires a metrics client: a struct of pre-registered
// collectors passed around by reference, fire-and-forget on the hot path (spec §6: "a slow
// listener must never block verification").
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event is the verification outcome record named in spec §7.
type Event struct {
	Timestamp         time.Time
	ClaimType         string
	Verified          bool
	VerificationTime  time.Duration
	ClientIdentifier  string
	Error             string
}

// Recorder holds the Prometheus collectors this package registers. Construct one per
// process and share it; all methods are safe for concurrent use (prometheus collectors
// already are).
type Recorder struct {
	verifications *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors with reg. Passing
// prometheus.NewRegistry() isolates metrics for tests; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics endpoint.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkid",
			Subsystem: "verifier",
			Name:      "verifications_total",
			Help:      "Total verification attempts by claim type and outcome.",
		}, []string{"claim_type", "verified"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkid",
			Subsystem: "verifier",
			Name:      "rejections_total",
			Help:      "Total verification rejections by gate error kind.",
		}, []string{"claim_type", "error"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zkid",
			Subsystem: "verifier",
			Name:      "verification_duration_seconds",
			Help:      "Verification latency by claim type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"claim_type"}),
	}
	for _, c := range []prometheus.Collector{r.verifications, r.rejections, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// EmitVerification records ev's outcome. Fire-and-forget: it never returns an error and
// never blocks on anything but the in-process collector update, so a slow metrics backend
// cannot stall the verifier (spec §6).
func (r *Recorder) EmitVerification(ev Event) {
	verifiedLabel := "false"
	if ev.Verified {
		verifiedLabel = "true"
	}
	r.verifications.WithLabelValues(ev.ClaimType, verifiedLabel).Inc()
	r.duration.WithLabelValues(ev.ClaimType).Observe(ev.VerificationTime.Seconds())
	if !ev.Verified && ev.Error != "" {
		r.rejections.WithLabelValues(ev.ClaimType, ev.Error).Inc()
	}
}
