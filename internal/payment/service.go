package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// ErrGuildRequired is returned when a server subscription is requested outside a guild
var ErrGuildRequired = errors.New("payment: server subscriptions must be bought inside a server")

// Store persists subscriptions and applied payments
type Store interface {
	UpsertSubscription(ctx context.Context, u storage.SubscriptionUpdate) (*storage.Subscription, error)
	GetPayment(ctx context.Context, txHash string) (*storage.Payment, error)
}

// Verifier checks a transaction on chain
type Verifier interface {
	Verify(ctx context.Context, txHash string, expectedADA float64) (*cardano.Receipt, error)
}

// Service turns verified payments into subscriptions
type Service struct {
	store    Store
	verifier Verifier
}

// NewService creates a payment service
func NewService(store Store, verifier Verifier) *Service {
	return &Service{store: store, verifier: verifier}
}

// Purchase is a user's claim that txHash pays for months of tier
type Purchase struct {
	UserID  string
	GuildID string
	Tier    storage.Tier
	Months  int
	TxHash  string
}

// subject picks the subscription key for a tier: the buyer for Premium, the guild for Server
func subject(plan Plan, userID, guildID string) (string, error) {
	if plan.Scope == storage.ScopeGuild {
		if guildID == "" {
			return "", ErrGuildRequired
		}
		return guildID, nil
	}
	return userID, nil
}

// Activate verifies the payment and creates or extends the subscription it pays for.
// A transaction already applied is refused before the block explorer is queried.
func (s *Service) Activate(ctx context.Context, p Purchase) (*storage.Subscription, *cardano.Receipt, error) {
	plan, err := PlanFor(p.Tier)
	if err != nil {
		return nil, nil, err
	}
	price, err := Price(p.Tier, p.Months)
	if err != nil {
		return nil, nil, err
	}
	subjectID, err := subject(plan, p.UserID, p.GuildID)
	if err != nil {
		return nil, nil, err
	}
	p.TxHash = cardano.NormalizeTxHash(p.TxHash)

	if _, err := s.store.GetPayment(ctx, p.TxHash); err == nil {
		return nil, nil, storage.ErrTxAlreadyUsed
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check payment: %w", err)
	}

	receipt, err := s.verifier.Verify(ctx, p.TxHash, price)
	if err != nil {
		return nil, nil, err
	}

	sub, err := s.store.UpsertSubscription(ctx, storage.SubscriptionUpdate{
		SubjectID:   subjectID,
		Scope:       plan.Scope,
		Tier:        plan.Tier,
		Months:      p.Months,
		AmountPaid:  receipt.AmountADA,
		TxHash:      p.TxHash,
		PurchasedBy: p.UserID,
		VerifiedBy:  "koios",
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Subscription activated",
		"subject", subjectID, "scope", plan.Scope, "tier", plan.Tier,
		"months", p.Months, "ada", receipt.AmountADA, "tx", p.TxHash)
	return sub, receipt, nil
}

// Grant is a manual subscription issued by an operator
type Grant struct {
	GrantedBy string
	SubjectID string
	Tier      storage.Tier
	Months    int
	TxHash    string // optional, generated when empty
}

// Grant writes a subscription without on-chain verification. Callers are responsible
// for authorizing the operator.
func (s *Service) Grant(ctx context.Context, g Grant) (*storage.Subscription, error) {
	plan, err := PlanFor(g.Tier)
	if err != nil {
		return nil, err
	}
	price, err := Price(g.Tier, g.Months)
	if err != nil {
		return nil, err
	}
	if g.SubjectID == "" {
		return nil, fmt.Errorf("grant requires a subject id")
	}

	txHash := cardano.NormalizeTxHash(g.TxHash)
	if txHash == "" {
		txHash = "manual-" + uuid.NewString()
	}

	sub, err := s.store.UpsertSubscription(ctx, storage.SubscriptionUpdate{
		SubjectID:   g.SubjectID,
		Scope:       plan.Scope,
		Tier:        plan.Tier,
		Months:      g.Months,
		AmountPaid:  price,
		TxHash:      txHash,
		PurchasedBy: g.GrantedBy,
		VerifiedBy:  "manual",
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Subscription granted",
		"subject", g.SubjectID, "scope", plan.Scope, "tier", plan.Tier,
		"months", g.Months, "by", g.GrantedBy, "tx", txHash)
	return sub, nil
}
