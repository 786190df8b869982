package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
)

var (
	// Admission metrics
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerize_admissions_total",
			Help: "Admission decisions by effective tier and reason",
		},
		[]string{"tier", "reason"},
	)

	LedgerSubjects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stickerize_ledger_subjects",
			Help: "Subjects tracked by the usage ledger",
		},
		[]string{"kind"}, // user, guild
	)

	LedgerEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stickerize_ledger_evictions_total",
			Help: "Ledger entries dropped by the sweeper",
		},
	)

	// Payment metrics
	PaymentVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerize_payment_verifications_total",
			Help: "Payment verification attempts by tier and result",
		},
		[]string{"tier", "result"}, // verified, rejected, error
	)

	// Generation metrics
	GenerationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stickerize_generation_duration_seconds",
			Help:    "Time from admission to a finished animation",
			Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180, 300},
		},
		[]string{"result"}, // succeeded, failed
	)
)

// RecordVerdict counts an admission decision
func RecordVerdict(v ratelimit.Verdict) {
	AdmissionsTotal.WithLabelValues(string(v.Tier), string(v.Reason)).Inc()
}

// RecordLedger updates the ledger gauges after a sweep
func RecordLedger(l *ratelimit.Ledger, evicted int) {
	users, guilds := l.Len()
	LedgerSubjects.WithLabelValues("user").Set(float64(users))
	LedgerSubjects.WithLabelValues("guild").Set(float64(guilds))
	LedgerEvictionsTotal.Add(float64(evicted))
}

// RecordVerification counts a payment verification attempt
func RecordVerification(tier, result string) {
	PaymentVerificationsTotal.WithLabelValues(tier, result).Inc()
}

// RecordGeneration observes how long a generation took
func RecordGeneration(seconds float64, succeeded bool) {
	result := "succeeded"
	if !succeeded {
		result = "failed"
	}
	GenerationDurationSeconds.WithLabelValues(result).Observe(seconds)
}
