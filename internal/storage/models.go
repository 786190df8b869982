package storage

import "time"

// Tier is a purchasable subscription tier
type Tier string

const (
	TierPremium Tier = "Premium"
	TierServer  Tier = "Server"
)

// Valid reports whether t is a tier that can be purchased
func (t Tier) Valid() bool {
	return t == TierPremium || t == TierServer
}

// Scope separates personal subscriptions from guild-wide ones
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeGuild    Scope = "guild"
)

// Subscription is a paid entitlement for a user (personal scope) or a guild (guild scope).
// There is at most one row per (SubjectID, Scope).
type Subscription struct {
	SubjectID   string
	Scope       Scope
	Tier        Tier
	StartTime   time.Time
	EndTime     time.Time
	AmountPaid  float64 // ADA, accumulated across renewals
	TxHash      string  // most recent payment
	PurchasedBy string  // Discord user ID
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveAt reports whether the subscription grants its tier at the given time
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.EndTime)
}

// Payment is a verified transaction that was applied to a subscription
type Payment struct {
	TxHash     string
	SubjectID  string
	Scope      Scope
	Tier       Tier
	Months     int
	AmountADA  float64
	VerifiedBy string // "koios" or "manual"
	CreatedAt  time.Time
}

// UsageEvent records one admitted generation
type UsageEvent struct {
	ID        int64
	GuildID   string
	UserID    string
	Tier      string
	Duration  time.Duration
	Succeeded bool
	CreatedAt time.Time
}

// GuildStats aggregates usage events for one guild
type GuildStats struct {
	GuildID         string
	TotalRequests   int
	Succeeded       int
	AverageDuration time.Duration
	LastUsedAt      time.Time
}

// SubscriptionStats summarizes all subscriptions
type SubscriptionStats struct {
	Total        int
	Active       int
	ActiveByTier map[Tier]int
	TotalRevenue float64
}
