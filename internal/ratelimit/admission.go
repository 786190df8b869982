package ratelimit

import (
	"context"
	"time"
)

// Reason explains a verdict
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonPersonalLimit    Reason = "personal_limit"
	ReasonGuildHourlyLimit Reason = "guild_hourly_limit"
	ReasonGuildDailyLimit  Reason = "guild_daily_limit"
)

// Limits are the numeric quotas applied by the controller
type Limits struct {
	StandardHourly int
	GuildHourly    int
	GuildDaily     int
}

// DefaultLimits returns 10 requests per user per hour and a shared guild pool of 5 per hour and 25 per day
func DefaultLimits() Limits {
	return Limits{StandardHourly: 10, GuildHourly: 5, GuildDaily: 25}
}

// Verdict is the admission decision for one request. Remaining and GuildRemaining
// are Unlimited when the corresponding quota does not apply.
type Verdict struct {
	Admitted       bool
	Tier           Tier
	Limit          int
	Remaining      int
	GuildRemaining int
	Reason         Reason
	ResetAt        time.Time
}

// Usage is a read-only view of where a request context stands
type Usage struct {
	Entitlement Entitlement
	User        UsageCounter
	// Guild is nil when the request is not charged to a guild pool
	Guild *GuildUsageCounter
}

// Controller admits or denies generation requests
type Controller struct {
	resolver *Resolver
	ledger   *Ledger
	limits   Limits
}

// NewController wires a resolver and a ledger under the given limits.
// StandardHourly always reflects the resolver's quota, which is the one enforced.
func NewController(resolver *Resolver, ledger *Ledger, limits Limits) *Controller {
	limits.StandardHourly = resolver.StandardLimit()
	return &Controller{
		resolver: resolver,
		ledger:   ledger,
		limits:   limits,
	}
}

// Ledger returns the controller's ledger
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// Limits returns the configured quotas
func (c *Controller) Limits() Limits {
	return c.limits
}

func pooled(rc Context, tier Tier) bool {
	return rc.GuildID != "" && !tier.GuildWide()
}

// Admit decides a single request and charges it when admitted. The personal limit is
// checked before the guild pool. The user's entry, and the guild's entry when the
// request draws on the shared pool, stay locked from check to increment.
func (c *Controller) Admit(ctx context.Context, rc Context) (Verdict, error) {
	ent, err := c.resolver.Resolve(ctx, rc)
	if err != nil {
		return Verdict{}, err
	}

	now := c.ledger.now()
	verdict := Verdict{
		Tier:           ent.Tier,
		Limit:          ent.Limit,
		Remaining:      Unlimited,
		GuildRemaining: Unlimited,
	}

	user := c.ledger.lockUser(rc.UserID)
	defer user.mu.Unlock()
	c.ledger.rollUser(user, now)

	if !ent.Unlimited() && user.window.count >= ent.Limit {
		verdict.Reason = ReasonPersonalLimit
		verdict.Remaining = 0
		verdict.ResetAt = user.window.resetAt
		return verdict, nil
	}

	var guild *guildEntry
	if pooled(rc, ent.Tier) {
		guild = c.ledger.lockGuild(rc.GuildID)
		defer guild.mu.Unlock()
		c.ledger.rollGuild(guild, now)

		if guild.hourly.count >= c.limits.GuildHourly {
			verdict.Reason = ReasonGuildHourlyLimit
			verdict.GuildRemaining = 0
			verdict.ResetAt = guild.hourly.resetAt
			return verdict, nil
		}
		if guild.daily.count >= c.limits.GuildDaily {
			verdict.Reason = ReasonGuildDailyLimit
			verdict.GuildRemaining = 0
			verdict.ResetAt = guild.daily.resetAt
			return verdict, nil
		}
	}

	user.window.count++
	verdict.Admitted = true
	verdict.Reason = ReasonOK
	verdict.ResetAt = user.window.resetAt
	if !ent.Unlimited() {
		verdict.Remaining = ent.Limit - user.window.count
	}

	if guild != nil {
		guild.hourly.count++
		guild.daily.count++
		verdict.GuildRemaining = min(
			c.limits.GuildHourly-guild.hourly.count,
			c.limits.GuildDaily-guild.daily.count,
		)
	}

	return verdict, nil
}

// Peek reports usage for a request context without charging anything
func (c *Controller) Peek(ctx context.Context, rc Context) (Usage, error) {
	ent, err := c.resolver.Resolve(ctx, rc)
	if err != nil {
		return Usage{}, err
	}

	usage := Usage{
		Entitlement: ent,
		User:        c.ledger.UserCounter(rc.UserID),
	}
	if pooled(rc, ent.Tier) {
		g := c.ledger.GuildCounter(rc.GuildID)
		usage.Guild = &g
	}
	return usage, nil
}
