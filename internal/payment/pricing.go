package payment

import (
	"errors"
	"fmt"

	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

const (
	MinMonths = 1
	MaxMonths = 12
)

var (
	// ErrInvalidTier is returned for tiers that cannot be purchased
	ErrInvalidTier = errors.New("payment: invalid tier")
	// ErrInvalidMonths is returned for a subscription length outside 1..12 months
	ErrInvalidMonths = errors.New("payment: invalid subscription length")
)

// Plan describes a purchasable tier
type Plan struct {
	Tier       storage.Tier
	Scope      storage.Scope
	MonthlyADA float64
	Features   []string
}

var plans = map[storage.Tier]Plan{
	storage.TierPremium: {
		Tier:       storage.TierPremium,
		Scope:      storage.ScopePersonal,
		MonthlyADA: 15,
		Features: []string{
			"Unlimited personal animations",
			"Priority processing",
			"Background removal included",
		},
	},
	storage.TierServer: {
		Tier:       storage.TierServer,
		Scope:      storage.ScopeGuild,
		MonthlyADA: 100,
		Features: []string{
			"Unlimited animations for every member of the server",
			"No shared server pool",
			"Priority support",
		},
	},
}

// PlanFor returns the plan of a purchasable tier
func PlanFor(tier storage.Tier) (Plan, error) {
	p, ok := plans[tier]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return p, nil
}

// Plans returns all purchasable plans, cheapest first
func Plans() []Plan {
	return []Plan{plans[storage.TierPremium], plans[storage.TierServer]}
}

// Price returns the ADA amount due for months of tier
func Price(tier storage.Tier, months int) (float64, error) {
	p, err := PlanFor(tier)
	if err != nil {
		return 0, err
	}
	if months < MinMonths || months > MaxMonths {
		return 0, fmt.Errorf("%w: %d months", ErrInvalidMonths, months)
	}
	return p.MonthlyADA * float64(months), nil
}
