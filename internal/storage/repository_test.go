package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestRepo(t *testing.T) (*Repository, *testClock, string) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	repo, err := NewRepository(path, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, clock, path
}

func premium(subject, tx string, months int) SubscriptionUpdate {
	return SubscriptionUpdate{
		SubjectID:   subject,
		Scope:       ScopePersonal,
		Tier:        TierPremium,
		Months:      months,
		AmountPaid:  15 * float64(months),
		TxHash:      tx,
		PurchasedBy: subject,
		VerifiedBy:  "koios",
	}
}

func TestUpsertCreatesSubscription(t *testing.T) {
	repo, clock, _ := newTestRepo(t)
	ctx := context.Background()

	sub, err := repo.UpsertSubscription(ctx, premium("u1", "tx1", 1))
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, clock.now, sub.StartTime)
	assert.Equal(t, clock.now.Add(MonthDuration), sub.EndTime)

	got, err := repo.GetSubscription(ctx, "u1", ScopePersonal)
	require.NoError(t, err)
	assert.Equal(t, sub.EndTime, got.EndTime)
	assert.Equal(t, TierPremium, got.Tier)
	assert.Equal(t, 15.0, got.AmountPaid)
	assert.Equal(t, "tx1", got.TxHash)
	assert.True(t, got.Active)

	// Scopes are independent keys
	_, err = repo.GetSubscription(ctx, "u1", ScopeGuild)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertExtendsActiveSubscription(t *testing.T) {
	repo, clock, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.UpsertSubscription(ctx, premium("u1", "tx1", 1))
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * 24 * time.Hour)
	sub, err := repo.UpsertSubscription(ctx, premium("u1", "tx2", 2))
	require.NoError(t, err)

	assert.Equal(t, first.StartTime, sub.StartTime)
	assert.Equal(t, first.EndTime.Add(2*MonthDuration), sub.EndTime, "renewal stacks on the current end time")
	assert.Equal(t, 45.0, sub.AmountPaid)
	assert.Equal(t, "tx2", sub.TxHash)
}

func TestUpsertRestartsExpiredSubscription(t *testing.T) {
	repo, clock, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, premium("u1", "tx1", 1))
	require.NoError(t, err)

	clock.now = clock.now.Add(45 * 24 * time.Hour)
	sub, err := repo.UpsertSubscription(ctx, premium("u1", "tx2", 1))
	require.NoError(t, err)

	assert.Equal(t, clock.now, sub.StartTime)
	assert.Equal(t, clock.now.Add(MonthDuration), sub.EndTime)
	assert.True(t, sub.Active)
	assert.Equal(t, 30.0, sub.AmountPaid)
}

func TestUpsertRejectsReusedTransaction(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, premium("u1", "tx1", 1))
	require.NoError(t, err)

	_, err = repo.UpsertSubscription(ctx, premium("u2", "tx1", 1))
	assert.ErrorIs(t, err, ErrTxAlreadyUsed)

	_, err = repo.GetSubscription(ctx, "u2", ScopePersonal)
	assert.ErrorIs(t, err, ErrNotFound, "the failed upsert left nothing behind")
}

func TestUpsertRejectsZeroMonths(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	_, err := repo.UpsertSubscription(context.Background(), premium("u1", "tx1", 0))
	assert.Error(t, err)
}

func TestActiveSubscriptionExpiresLazily(t *testing.T) {
	repo, clock, path := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, SubscriptionUpdate{
		SubjectID: "g1", Scope: ScopeGuild, Tier: TierServer, Months: 1,
		AmountPaid: 100, TxHash: "tx-guild", PurchasedBy: "u1", VerifiedBy: "koios",
	})
	require.NoError(t, err)

	sub, err := repo.ActiveSubscription(ctx, "g1", ScopeGuild)
	require.NoError(t, err)
	require.NotNil(t, sub)

	clock.now = clock.now.Add(MonthDuration)
	sub, err = repo.ActiveSubscription(ctx, "g1", ScopeGuild)
	require.NoError(t, err)
	assert.Nil(t, sub)

	// The flag flip is persisted, visible to a fresh connection
	require.NoError(t, repo.Close())
	reopened, err := NewRepository(path, WithClock(clock.Now))
	require.NoError(t, err)
	defer reopened.Close()

	var active int
	require.NoError(t, reopened.db.QueryRow(`SELECT active FROM subscriptions WHERE subject_id = 'g1'`).Scan(&active))
	assert.Equal(t, 0, active)

	stored, err := reopened.GetSubscription(ctx, "g1", ScopeGuild)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestActiveSubscriptionMissing(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	sub, err := repo.ActiveSubscription(context.Background(), "nobody", ScopePersonal)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestListActiveAndStats(t *testing.T) {
	repo, clock, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertSubscription(ctx, premium("u1", "tx1", 1))
	require.NoError(t, err)
	_, err = repo.UpsertSubscription(ctx, premium("u2", "tx2", 3))
	require.NoError(t, err)
	_, err = repo.UpsertSubscription(ctx, SubscriptionUpdate{
		SubjectID: "g1", Scope: ScopeGuild, Tier: TierServer, Months: 1,
		AmountPaid: 100, TxHash: "tx3", PurchasedBy: "u1", VerifiedBy: "manual",
	})
	require.NoError(t, err)

	clock.now = clock.now.Add(MonthDuration + time.Hour)

	personal, err := repo.ListActiveSubscriptions(ctx, ScopePersonal)
	require.NoError(t, err)
	require.Len(t, personal, 1)
	assert.Equal(t, "u2", personal[0].SubjectID)

	guilds, err := repo.ListActiveSubscriptions(ctx, ScopeGuild)
	require.NoError(t, err)
	assert.Empty(t, guilds)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.ActiveByTier[TierPremium])
	assert.Equal(t, 0, stats.ActiveByTier[TierServer])
	assert.Equal(t, 160.0, stats.TotalRevenue)
}

func TestUsageEventsAndGuildStats(t *testing.T) {
	repo, clock, _ := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.GuildStats(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalRequests)
	assert.True(t, empty.LastUsedAt.IsZero())

	events := []*UsageEvent{
		{GuildID: "g1", UserID: "u1", Tier: "Standard", Duration: 20 * time.Second, Succeeded: true},
		{GuildID: "g1", UserID: "u2", Tier: "Premium", Duration: 40 * time.Second, Succeeded: true},
		{GuildID: "g1", UserID: "u2", Tier: "Premium", Duration: 5 * time.Second, Succeeded: false},
		{GuildID: "g2", UserID: "u3", Tier: "Standard", Duration: time.Second, Succeeded: true},
	}
	for _, e := range events {
		require.NoError(t, repo.RecordUsage(ctx, e))
		assert.NotZero(t, e.ID)
		clock.now = clock.now.Add(time.Minute)
	}

	stats, err := repo.GuildStats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 30*time.Second, stats.AverageDuration)
	assert.Equal(t, events[2].CreatedAt, stats.LastUsedAt)
}

func TestGuildStatsKeepsSubMillisecondAverage(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	for _, d := range []time.Duration{time.Millisecond, 2 * time.Millisecond} {
		require.NoError(t, repo.RecordUsage(ctx, &UsageEvent{GuildID: "g1", UserID: "u1", Tier: "Standard", Duration: d, Succeeded: true}))
	}

	stats, err := repo.GuildStats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Microsecond, stats.AverageDuration)
}

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Now()
	var nilSub *Subscription
	assert.False(t, nilSub.ActiveAt(now))

	sub := &Subscription{Active: true, EndTime: now.Add(time.Second)}
	assert.True(t, sub.ActiveAt(now))
	assert.False(t, sub.ActiveAt(now.Add(time.Second)))

	sub.Active = false
	assert.False(t, sub.ActiveAt(now))
}

func TestTierValid(t *testing.T) {
	assert.True(t, TierPremium.Valid())
	assert.True(t, TierServer.Valid())
	assert.False(t, Tier("Ultra").Valid())
}
