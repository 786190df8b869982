package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// joinWindow separates a fresh join from the GuildCreate replay sent on connect
const joinWindow = 5 * time.Minute

func isNewJoin(g *discordgo.Guild, now time.Time) bool {
	if g == nil || g.Unavailable || g.JoinedAt.IsZero() {
		return false
	}
	return now.Sub(g.JoinedAt) < joinWindow
}

// handleGuildCreate welcomes a server the bot was just added to
func (b *Bot) handleGuildCreate(s *discordgo.Session, e *discordgo.GuildCreate) {
	if !isNewJoin(e.Guild, time.Now()) {
		return
	}
	slog.Info("Bot joined server", "guild", e.Guild.Name, "id", e.Guild.ID)

	if e.Guild.SystemChannelID == "" {
		slog.Debug("No system channel for welcome message", "guild", e.Guild.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.repo.ActiveSubscription(ctx, e.Guild.ID, storage.ScopeGuild)
	if err != nil {
		slog.Warn("Failed to read server subscription", "guild", e.Guild.ID, "error", err)
		sub = nil
	}

	serverPlan, _ := payment.PlanFor(storage.TierServer)
	embed := welcomeEmbed(sub, b.controller.Limits(), serverPlan)
	if _, err := s.ChannelMessageSendEmbed(e.Guild.SystemChannelID, embed); err != nil {
		slog.Error("Failed to send welcome message", "guild", e.Guild.ID, "error", err)
	}
}
