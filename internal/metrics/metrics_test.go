package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
)

func TestRecordVerdict(t *testing.T) {
	c := AdmissionsTotal.WithLabelValues("Standard", "guild_hourly_limit")
	before := testutil.ToFloat64(c)

	RecordVerdict(ratelimit.Verdict{Tier: ratelimit.TierStandard, Reason: ratelimit.ReasonGuildHourlyLimit})

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordLedger(t *testing.T) {
	l := ratelimit.NewLedger(ratelimit.DefaultWindows(), nil)
	l.IncrementUser("u1")
	l.IncrementUser("u2")
	l.IncrementGuild("g1")
	before := testutil.ToFloat64(LedgerEvictionsTotal)

	RecordLedger(l, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(LedgerSubjects.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(LedgerSubjects.WithLabelValues("guild")))
	assert.Equal(t, before+3, testutil.ToFloat64(LedgerEvictionsTotal))
}

func TestRecordVerification(t *testing.T) {
	c := PaymentVerificationsTotal.WithLabelValues("Premium", "verified")
	before := testutil.ToFloat64(c)

	RecordVerification("Premium", "verified")

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
