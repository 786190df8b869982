package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// isAdmin reports whether the interaction comes from the configured operator
func (b *Bot) isAdmin(i *discordgo.InteractionCreate) bool {
	return b.config.AdminUserID != "" && interactionUserID(i) == b.config.AdminUserID
}

// grantSubject picks who an admin grant applies to: the user for Premium, this guild for Server
func grantSubject(tier storage.Tier, userID, guildID string) (string, error) {
	plan, err := payment.PlanFor(tier)
	if err != nil {
		return "", err
	}
	if plan.Scope == storage.ScopeGuild {
		if guildID == "" {
			return "", payment.ErrGuildRequired
		}
		return guildID, nil
	}
	return userID, nil
}

// handleAdminVerify handles the /admin-verify command
func (b *Bot) handleAdminVerify(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "This command is restricted to the bot administrator.")
		return
	}

	opts := optionMap(i)
	tier, months := parsePurchase(opts)
	user := opts["user"].UserValue(s)
	var txHash string
	if o, ok := opts["transaction_hash"]; ok {
		txHash = cardano.NormalizeTxHash(o.StringValue())
	}

	subject, err := grantSubject(tier, user.ID, i.GuildID)
	if err != nil {
		respondEphemeral(s, i, paymentErrorMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := b.payments.Grant(ctx, payment.Grant{
		GrantedBy: interactionUserID(i),
		SubjectID: subject,
		Tier:      tier,
		Months:    months,
		TxHash:    txHash,
	})
	if err != nil {
		slog.Error("Manual grant failed", "subject", subject, "error", err)
		respondEphemeral(s, i, paymentErrorMessage(err))
		return
	}

	respondEphemeral(s, i, fmt.Sprintf("Granted **%s** to <@%s> (%s), expires %s.\nReference: `%s`",
		sub.Tier, user.ID, sub.Scope, relativeTime(sub.EndTime), sub.TxHash))
}

// handleAdminDebugTx handles the /admin-debug-tx command
func (b *Bot) handleAdminDebugTx(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "This command is restricted to the bot administrator.")
		return
	}

	opts := optionMap(i)
	txHash := cardano.NormalizeTxHash(opts["transaction_hash"].StringValue())
	expected := opts["expected_amount"].FloatValue()

	if !cardano.ValidTxHash(txHash) {
		respondEphemeral(s, i, paymentErrorMessage(cardano.ErrInvalidTxHash))
		return
	}

	deferResponse(s, i, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := b.koios.GetTxInfo(ctx, txHash)
	if err != nil {
		slog.Warn("Debug lookup failed", "tx", txHash, "error", err)
		b.editResponse(s, i, paymentErrorMessage(err))
		return
	}

	embed := txDebugEmbed(tx, b.verifier.Wallet(), expected)
	if _, err := b.verifier.Verify(ctx, txHash, expected); err != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Verdict", Value: paymentErrorMessage(err)})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Verdict", Value: "Payment would be accepted"})
	}
	b.editEmbed(s, i, embed)
}

// handleAdminBalance handles the /admin-balance command
func (b *Bot) handleAdminBalance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "This command is restricted to the bot administrator.")
		return
	}

	deferResponse(s, i, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := b.verifier.Balance(ctx)
	if errors.Is(err, cardano.ErrAddressNotFound) {
		b.editResponse(s, i, "The payment wallet has no on-chain history yet.")
		return
	}
	if err != nil {
		slog.Error("Failed to read wallet balance", "error", err)
		b.editResponse(s, i, "Failed to read the wallet balance.")
		return
	}

	stats, err := b.repo.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read subscription stats", "error", err)
		b.editResponse(s, i, fmt.Sprintf("Wallet balance: **%.2f ADA**", balance))
		return
	}

	b.editResponse(s, i, fmt.Sprintf("Wallet balance: **%.2f ADA**\nRecorded revenue: %.2f ADA from %d subscriptions (%d active)",
		balance, stats.TotalRevenue, stats.Total, stats.Active))
}
