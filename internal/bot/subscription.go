package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/metrics"
	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// rejections are failures caused by the payment itself rather than by an outage
var rejections = []error{
	cardano.ErrInvalidTxHash,
	cardano.ErrTxNotFound,
	cardano.ErrNoPayment,
	cardano.ErrInsufficientPayment,
	storage.ErrTxAlreadyUsed,
	payment.ErrGuildRequired,
	payment.ErrInvalidTier,
	payment.ErrInvalidMonths,
}

// verificationResult labels a verification attempt for metrics
func verificationResult(err error) string {
	if err == nil {
		return "verified"
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return "rejected"
		}
	}
	return "error"
}

// handleSubscribe handles the /subscribe command
func (b *Bot) handleSubscribe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	tier, months := parsePurchase(optionMap(i))

	plan, err := payment.PlanFor(tier)
	if err != nil {
		respondEphemeral(s, i, paymentErrorMessage(err))
		return
	}
	amount, err := payment.Price(tier, months)
	if err != nil {
		respondEphemeral(s, i, paymentErrorMessage(err))
		return
	}

	subject := interactionUserID(i)
	if plan.Scope == storage.ScopeGuild {
		if i.GuildID == "" {
			respondEphemeral(s, i, paymentErrorMessage(payment.ErrGuildRequired))
			return
		}
		subject = i.GuildID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := b.repo.ActiveSubscription(ctx, subject, plan.Scope)
	if err != nil {
		// The payment instructions are still valid without the renewal note
		slog.Warn("Failed to read current subscription", "subject", subject, "error", err)
		current = nil
	}

	slog.Info("Subscription requested", "user", interactionUserID(i), "tier", tier, "months", months, "ada", amount)
	respondEphemeral(s, i, "", paymentRequestEmbed(plan, months, amount, b.verifier.Wallet(), current))
}

// handleVerifyPayment handles the /verify-payment command
func (b *Bot) handleVerifyPayment(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	tier, months := parsePurchase(opts)
	txHash := strings.TrimSpace(opts["transaction_hash"].StringValue())

	// Koios can take a few seconds
	deferResponse(s, i, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub, receipt, err := b.payments.Activate(ctx, payment.Purchase{
		UserID:  interactionUserID(i),
		GuildID: i.GuildID,
		Tier:    tier,
		Months:  months,
		TxHash:  txHash,
	})
	metrics.RecordVerification(string(tier), verificationResult(err))
	if err != nil {
		slog.Warn("Payment verification failed", "user", interactionUserID(i), "tx", txHash, "error", err)
		b.editResponse(s, i, paymentErrorMessage(err))
		return
	}

	b.editEmbed(s, i, activatedEmbed(sub, receipt))
}

// handleSubscription handles the /subscription command
func (b *Bot) handleSubscription(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	personal, err := b.repo.ActiveSubscription(ctx, interactionUserID(i), storage.ScopePersonal)
	if err != nil {
		slog.Error("Failed to read subscription", "user", interactionUserID(i), "error", err)
		respondEphemeral(s, i, "An error occurred while checking your subscription status.")
		return
	}

	var guild *storage.Subscription
	if i.GuildID != "" {
		guild, err = b.repo.ActiveSubscription(ctx, i.GuildID, storage.ScopeGuild)
		if err != nil {
			slog.Error("Failed to read server subscription", "guild", i.GuildID, "error", err)
			respondEphemeral(s, i, "An error occurred while checking your subscription status.")
			return
		}
	}

	respondEphemeral(s, i, "", subscriptionEmbed(personal, guild, i.GuildID != ""))
}
