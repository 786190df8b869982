package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// ErrMissingUser is returned for a request context without a usable user ID
var ErrMissingUser = errors.New("ratelimit: user id is required")

// Tier is the effective entitlement level of a request
type Tier string

const (
	TierStandard Tier = "Standard"
	TierPremium  Tier = "Premium"
	TierServer   Tier = "Server"
	TierAdmin    Tier = "Admin"
	TierVIP      Tier = "VIP"
)

// GuildWide reports whether the tier covers everyone in the guild, which
// exempts the request from the guild's shared free-tier pool
func (t Tier) GuildWide() bool {
	return t == TierAdmin || t == TierVIP || t == TierServer
}

// Unlimited marks an entitlement without a personal quota
const Unlimited = -1

// Context identifies who is asking and where
type Context struct {
	UserID    string
	GuildID   string // empty in DMs
	ChannelID string
}

func (c Context) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return ErrMissingUser
	}
	return nil
}

// Entitlement is the resolved tier and its personal quota per window
type Entitlement struct {
	Tier  Tier
	Limit int
}

// Unlimited reports whether the entitlement has no personal quota
func (e Entitlement) Unlimited() bool {
	return e.Limit < 0
}

// SubscriptionStore reads subscriptions. ActiveSubscription returns nil when the
// subject has no subscription or it has expired.
type SubscriptionStore interface {
	ActiveSubscription(ctx context.Context, subjectID string, scope storage.Scope) (*storage.Subscription, error)
}

// Overrides are configuration-only entitlements. Empty IDs never match.
type Overrides struct {
	AdminUserID  string
	VIPChannelID string
}

// Resolver maps a request context to its entitlement
type Resolver struct {
	store         SubscriptionStore
	overrides     Overrides
	standardLimit int
	now           func() time.Time
}

// NewResolver creates a resolver. standardLimit is the hourly quota for users without
// any entitlement.
func NewResolver(store SubscriptionStore, overrides Overrides, standardLimit int, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:         store,
		overrides:     overrides,
		standardLimit: standardLimit,
		now:           now,
	}
}

// StandardLimit returns the hourly quota applied to Standard users
func (r *Resolver) StandardLimit() int {
	return r.standardLimit
}

// Resolve applies the fixed precedence admin, VIP channel, guild subscription,
// personal subscription, standard. The first match wins.
func (r *Resolver) Resolve(ctx context.Context, rc Context) (Entitlement, error) {
	if err := rc.validate(); err != nil {
		return Entitlement{}, err
	}

	if r.overrides.AdminUserID != "" && rc.UserID == r.overrides.AdminUserID {
		return Entitlement{Tier: TierAdmin, Limit: Unlimited}, nil
	}
	if r.overrides.VIPChannelID != "" && rc.ChannelID == r.overrides.VIPChannelID {
		return Entitlement{Tier: TierVIP, Limit: Unlimited}, nil
	}

	if rc.GuildID != "" {
		sub, err := r.active(ctx, rc.GuildID, storage.ScopeGuild)
		if err != nil {
			return Entitlement{}, err
		}
		if sub != nil {
			return Entitlement{Tier: TierServer, Limit: Unlimited}, nil
		}
	}

	sub, err := r.active(ctx, rc.UserID, storage.ScopePersonal)
	if err != nil {
		return Entitlement{}, err
	}
	if sub != nil {
		return Entitlement{Tier: Tier(sub.Tier), Limit: Unlimited}, nil
	}

	return Entitlement{Tier: TierStandard, Limit: r.standardLimit}, nil
}

func (r *Resolver) active(ctx context.Context, subjectID string, scope storage.Scope) (*storage.Subscription, error) {
	sub, err := r.store.ActiveSubscription(ctx, subjectID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s subscription: %w", scope, err)
	}
	if !sub.ActiveAt(r.now()) {
		return nil, nil
	}
	return sub, nil
}
