package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

const (
	colorSuccess = 0x4ECDC4
	colorWarning = 0xFFA726
	colorError   = 0xFF6B6B
)

// relativeTime renders a Discord timestamp such as "in 42 minutes"
func relativeTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// denialMessage explains why a request was refused and when it can be retried
func denialMessage(v ratelimit.Verdict) string {
	switch v.Reason {
	case ratelimit.ReasonPersonalLimit:
		return fmt.Sprintf("You've used all %d of your animations for this hour. Your limit resets %s.\n"+
			"Upgrade with `/subscribe` for unlimited animations.", v.Limit, relativeTime(v.ResetAt))
	case ratelimit.ReasonGuildHourlyLimit:
		return fmt.Sprintf("This server has used its shared hourly animations. The pool refills %s.\n"+
			"A server subscription (`/subscribe tier:Server`) removes the shared limit for everyone.", relativeTime(v.ResetAt))
	case ratelimit.ReasonGuildDailyLimit:
		return fmt.Sprintf("This server has used its shared daily animations. The pool refills %s.\n"+
			"A server subscription (`/subscribe tier:Server`) removes the shared limit for everyone.", relativeTime(v.ResetAt))
	default:
		return "You can't create an animation right now. Please try again later."
	}
}

// quotaFooter summarizes what is left after an admitted request
func quotaFooter(v ratelimit.Verdict) string {
	if v.Remaining == ratelimit.Unlimited && v.GuildRemaining == ratelimit.Unlimited {
		return fmt.Sprintf("%s tier: unlimited animations", v.Tier)
	}

	parts := []string{}
	if v.Remaining != ratelimit.Unlimited {
		parts = append(parts, fmt.Sprintf("%d/%d left this hour", v.Remaining, v.Limit))
	}
	if v.GuildRemaining != ratelimit.Unlimited {
		parts = append(parts, fmt.Sprintf("%d left in the server pool", v.GuildRemaining))
	}
	return fmt.Sprintf("%s tier: %s", v.Tier, strings.Join(parts, ", "))
}

// usageEmbed renders /usage
func usageEmbed(u ratelimit.Usage, limits ratelimit.Limits) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Your Usage",
		Color: colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tier", Value: string(u.Entitlement.Tier), Inline: true},
		},
	}

	if u.Entitlement.Unlimited() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Personal", Value: "Unlimited", Inline: true,
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Personal",
			Value:  fmt.Sprintf("%d/%d this hour, resets %s", u.User.Count, u.Entitlement.Limit, relativeTime(u.User.ResetAt)),
			Inline: true,
		})
	}

	if u.Guild != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Server pool",
			Value: fmt.Sprintf("%d/%d this hour, resets %s\n%d/%d today, resets %s",
				u.Guild.HourlyCount, limits.GuildHourly, relativeTime(u.Guild.HourlyResetAt),
				u.Guild.DailyCount, limits.GuildDaily, relativeTime(u.Guild.DailyResetAt)),
		})
	} else if u.Entitlement.Tier.GuildWide() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Server pool", Value: "Not applied",
		})
	}

	return embed
}

// paymentErrorMessage turns an activation failure into something a user can act on
func paymentErrorMessage(err error) string {
	switch {
	case errors.Is(err, cardano.ErrInvalidTxHash):
		return "That doesn't look like a transaction hash. It should be 64 hexadecimal characters."
	case errors.Is(err, cardano.ErrTxNotFound):
		return "Transaction not found yet. Wait a minute for it to confirm and try again."
	case errors.Is(err, cardano.ErrNoPayment):
		return "That transaction doesn't send any ADA to the payment address."
	case errors.Is(err, cardano.ErrInsufficientPayment):
		return "The payment amount is too low for this subscription. " + strings.TrimPrefix(err.Error(), cardano.ErrInsufficientPayment.Error()+": ")
	case errors.Is(err, storage.ErrTxAlreadyUsed):
		return "This transaction has already been used for a subscription."
	case errors.Is(err, payment.ErrGuildRequired):
		return "Server subscriptions have to be bought from inside the server."
	case errors.Is(err, payment.ErrInvalidTier), errors.Is(err, payment.ErrInvalidMonths):
		return fmt.Sprintf("Invalid subscription: choose Premium or Server for %d to %d months.", payment.MinMonths, payment.MaxMonths)
	case errors.Is(err, cardano.ErrRateLimited):
		return "The block explorer is busy. Please try again in a minute."
	default:
		return "An error occurred while verifying your payment."
	}
}

func planFeatures(p payment.Plan) string {
	var sb strings.Builder
	for _, f := range p.Features {
		sb.WriteString("• " + f + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func monthsLabel(months int) string {
	if months == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", months)
}

// paymentRequestEmbed tells the user what to pay and where
func paymentRequestEmbed(p payment.Plan, months int, amount float64, wallet string, current *storage.Subscription) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "ADA Payment Required",
		Description: fmt.Sprintf("To activate **%s**, send **%g ADA** to the address below.", p.Tier, amount),
		Color:       colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Payment Address", Value: "`" + wallet + "`"},
			{Name: "Amount", Value: fmt.Sprintf("%g ADA", amount), Inline: true},
			{Name: "Duration", Value: monthsLabel(months), Inline: true},
			{Name: "Tier", Value: string(p.Tier), Inline: true},
			{Name: "Features", Value: planFeatures(p)},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "After payment, use /verify-payment with your transaction hash",
		},
	}

	if current != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Renewal",
			Value: fmt.Sprintf("Your current %s subscription ends %s. This payment extends it.", current.Tier, relativeTime(current.EndTime)),
		})
	}
	return embed
}

// activatedEmbed confirms a verified payment
func activatedEmbed(sub *storage.Subscription, receipt *cardano.Receipt) *discordgo.MessageEmbed {
	scope := "your account"
	if sub.Scope == storage.ScopeGuild {
		scope = "this server"
	}
	return &discordgo.MessageEmbed{
		Title:       "Subscription Activated!",
		Description: fmt.Sprintf("**%s** is now active for %s.", sub.Tier, scope),
		Color:       colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Amount Received", Value: fmt.Sprintf("%.2f ADA", receipt.AmountADA), Inline: true},
			{Name: "Expires", Value: relativeTime(sub.EndTime), Inline: true},
			{Name: "Transaction", Value: "`" + receipt.TxHash + "`"},
		},
	}
}

// subscriptionEmbed renders /subscription for the caller and, inside a guild, the server
func subscriptionEmbed(personal, guild *storage.Subscription, inGuild bool) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Subscription Status",
		Color: colorSuccess,
	}

	describe := func(sub *storage.Subscription) string {
		if sub == nil {
			return "None"
		}
		return fmt.Sprintf("%s, expires %s", sub.Tier, relativeTime(sub.EndTime))
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Personal", Value: describe(personal)})
	if inGuild {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Server", Value: describe(guild)})
	}

	if personal == nil && guild == nil {
		embed.Color = colorWarning
		embed.Description = "No active subscription. Use `/subscribe` to see plans."
	}
	return embed
}

// statsEmbed renders /stickerize-stats
func statsEmbed(gs *storage.GuildStats, ss *storage.SubscriptionStats) *discordgo.MessageEmbed {
	avg := "n/a"
	if gs.Succeeded > 0 {
		avg = gs.AverageDuration.Round(100 * time.Millisecond).String()
	}
	last := "never"
	if !gs.LastUsedAt.IsZero() {
		last = relativeTime(gs.LastUsedAt)
	}

	return &discordgo.MessageEmbed{
		Title: "Stickerize Stats",
		Color: colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Animations (this server)", Value: fmt.Sprintf("%d requested, %d delivered", gs.TotalRequests, gs.Succeeded), Inline: true},
			{Name: "Average time", Value: avg, Inline: true},
			{Name: "Last used", Value: last, Inline: true},
			{Name: "Active subscriptions", Value: fmt.Sprintf("%d Premium, %d Server",
				ss.ActiveByTier[storage.TierPremium], ss.ActiveByTier[storage.TierServer])},
		},
	}
}

// welcomeEmbed greets a guild the bot has just joined
func welcomeEmbed(sub *storage.Subscription, limits ratelimit.Limits, serverPlan payment.Plan) *discordgo.MessageEmbed {
	if sub != nil {
		return &discordgo.MessageEmbed{
			Title:       "Stickerize Bot - Server Subscription Active!",
			Description: "Welcome to your premium Stickerize Bot experience!",
			Color:       colorSuccess,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Subscription Tier", Value: string(sub.Tier), Inline: true},
				{Name: "Expires", Value: relativeTime(sub.EndTime), Inline: true},
				{Name: "Features", Value: planFeatures(serverPlan)},
				{Name: "Get Started", Value: "Use `/stickerize` to create animated stickers!"},
			},
			Footer: &discordgo.MessageEmbedFooter{Text: "Thank you for supporting Stickerize Bot with ADA!"},
		}
	}

	return &discordgo.MessageEmbed{
		Title:       "Welcome to Stickerize Bot!",
		Description: "Thanks for adding me to your server!",
		Color:       colorWarning,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Free Features", Value: fmt.Sprintf("• %d animations per hour per user\n• A shared server pool of %d per hour and %d per day",
				limits.StandardHourly, limits.GuildHourly, limits.GuildDaily)},
			{Name: "Server Subscription", Value: fmt.Sprintf("• **%g ADA/month** for unlimited server-wide access\n%s",
				serverPlan.MonthlyADA, planFeatures(serverPlan))},
			{Name: "Get Started", Value: "Use `/stickerize` to create your first animated sticker!\nUse `/subscribe tier:Server` to upgrade your entire server!"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Powered by Cardano blockchain payments"},
	}
}

// txDebugEmbed lists every output of a transaction for /admin-debug-tx
func txDebugEmbed(tx *cardano.TxInfo, wallet string, expected float64) *discordgo.MessageEmbed {
	var sb strings.Builder
	var toWallet int64
	for idx, out := range tx.Outputs {
		lovelace, err := cardano.ParseLovelace(out.Value)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%d. `%s`: invalid value %q\n", idx+1, out.PaymentAddr.Bech32, out.Value))
			continue
		}
		marker := ""
		if out.PaymentAddr.Bech32 == wallet {
			marker = " (wallet)"
			toWallet += lovelace
		}
		sb.WriteString(fmt.Sprintf("%d. `%s`%s: %.6f ADA\n", idx+1, out.PaymentAddr.Bech32, marker, cardano.ToADA(lovelace)))
	}
	if sb.Len() == 0 {
		sb.WriteString("No outputs")
	}

	outputs := sb.String()
	if len(outputs) > 1024 {
		outputs = outputs[:1020] + "..."
	}

	block := "pending"
	if tx.Confirmed() {
		block = fmt.Sprintf("%d", *tx.BlockHeight)
	}

	return &discordgo.MessageEmbed{
		Title: "Transaction Debug",
		Color: colorWarning,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Hash", Value: "`" + tx.TxHash + "`"},
			{Name: "Block", Value: block, Inline: true},
			{Name: "To wallet", Value: fmt.Sprintf("%.6f ADA", cardano.ToADA(toWallet)), Inline: true},
			{Name: "Expected", Value: fmt.Sprintf("%g ADA", expected), Inline: true},
			{Name: "Outputs", Value: outputs},
		},
	}
}
