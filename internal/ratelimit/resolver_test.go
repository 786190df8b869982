package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

func TestResolvePrecedence(t *testing.T) {
	overrides := Overrides{AdminUserID: "admin", VIPChannelID: "vip"}

	tests := []struct {
		name  string
		setup func(h *harness)
		rc    Context
		want  Tier
		limit int
	}{
		{
			name:  "no entitlement",
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierStandard,
			limit: 10,
		},
		{
			name:  "admin",
			rc:    Context{UserID: "admin", GuildID: "g1", ChannelID: "c1"},
			want:  TierAdmin,
			limit: Unlimited,
		},
		{
			name:  "vip channel",
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "vip"},
			want:  TierVIP,
			limit: Unlimited,
		},
		{
			name: "admin wins over vip channel and subscriptions",
			setup: func(h *harness) {
				h.store.put("g1", storage.ScopeGuild, storage.TierServer, h.clock.Now().Add(time.Hour))
				h.store.put("admin", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "admin", GuildID: "g1", ChannelID: "vip"},
			want:  TierAdmin,
			limit: Unlimited,
		},
		{
			name: "vip channel wins over guild subscription",
			setup: func(h *harness) {
				h.store.put("g1", storage.ScopeGuild, storage.TierServer, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "vip"},
			want:  TierVIP,
			limit: Unlimited,
		},
		{
			name: "guild subscription wins over personal",
			setup: func(h *harness) {
				h.store.put("g1", storage.ScopeGuild, storage.TierServer, h.clock.Now().Add(time.Hour))
				h.store.put("u1", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierServer,
			limit: Unlimited,
		},
		{
			name: "personal premium",
			setup: func(h *harness) {
				h.store.put("u1", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierPremium,
			limit: Unlimited,
		},
		{
			name: "personal premium in direct messages",
			setup: func(h *harness) {
				h.store.put("u1", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1"},
			want:  TierPremium,
			limit: Unlimited,
		},
		{
			name: "expired personal falls through to standard",
			setup: func(h *harness) {
				h.store.put("u1", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(-time.Second))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierStandard,
			limit: 10,
		},
		{
			name: "expired guild falls through to personal",
			setup: func(h *harness) {
				h.store.put("g1", storage.ScopeGuild, storage.TierServer, h.clock.Now())
				h.store.put("u1", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierPremium,
			limit: Unlimited,
		},
		{
			name: "guild subscription of another guild does not apply",
			setup: func(h *harness) {
				h.store.put("g2", storage.ScopeGuild, storage.TierServer, h.clock.Now().Add(time.Hour))
			},
			rc:    Context{UserID: "u1", GuildID: "g1", ChannelID: "c1"},
			want:  TierStandard,
			limit: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(overrides)
			if tt.setup != nil {
				tt.setup(h)
			}

			ent, err := h.resolver.Resolve(context.Background(), tt.rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ent.Tier)
			assert.Equal(t, tt.limit, ent.Limit)
			assert.Equal(t, tt.limit == Unlimited, ent.Unlimited())
		})
	}
}

func TestResolveAdminWithExpiredSubscription(t *testing.T) {
	h := newHarness(Overrides{AdminUserID: "admin", VIPChannelID: "vip"})
	h.store.put("admin", storage.ScopePersonal, storage.TierPremium, h.clock.Now().Add(-time.Hour))

	ent, err := h.resolver.Resolve(context.Background(), Context{UserID: "admin", GuildID: "g1", ChannelID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, TierAdmin, ent.Tier)
	assert.True(t, ent.Unlimited())
	assert.Zero(t, h.store.reads, "admin short-circuits before any subscription read")
}

func TestResolveEmptyOverridesNeverMatch(t *testing.T) {
	h := newHarness(Overrides{})

	ent, err := h.resolver.Resolve(context.Background(), Context{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, TierStandard, ent.Tier)
}

func TestResolveMarksExpiredSubscriptionInactive(t *testing.T) {
	h := newHarness(Overrides{})
	h.store.put("g1", storage.ScopeGuild, storage.TierServer, h.clock.Now().Add(time.Minute))

	ent, err := h.resolver.Resolve(context.Background(), Context{UserID: "u1", GuildID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, TierServer, ent.Tier)

	h.clock.Advance(time.Minute)
	ent, err = h.resolver.Resolve(context.Background(), Context{UserID: "u1", GuildID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, TierStandard, ent.Tier)
	assert.False(t, h.store.get("g1", storage.ScopeGuild).Active)
}

func TestResolveRejectsMissingUser(t *testing.T) {
	h := newHarness(Overrides{})

	for _, id := range []string{"", "   "} {
		_, err := h.resolver.Resolve(context.Background(), Context{UserID: id, GuildID: "g1"})
		assert.ErrorIs(t, err, ErrMissingUser)
	}
	assert.Zero(t, h.store.reads)
}

func TestResolveStoreError(t *testing.T) {
	h := newHarness(Overrides{})
	h.store.err = errStoreDown

	_, err := h.resolver.Resolve(context.Background(), Context{UserID: "u1", GuildID: "g1"})
	assert.ErrorIs(t, err, errStoreDown)
}

func TestTierGuildWide(t *testing.T) {
	assert.True(t, TierAdmin.GuildWide())
	assert.True(t, TierVIP.GuildWide())
	assert.True(t, TierServer.GuildWide())
	assert.False(t, TierPremium.GuildWide())
	assert.False(t, TierStandard.GuildWide())
}
