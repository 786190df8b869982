package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/media"
	"github.com/LavonTMCQ/mistermarketing/internal/metrics"
	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

const (
	generationTimeout = 5 * time.Minute
	maxImageBytes     = 10 << 20
)

var errNotAnImage = errors.New("attachment is not an image")

// requestContext builds the admission context for an interaction
func requestContext(i *discordgo.InteractionCreate) ratelimit.Context {
	return ratelimit.Context{
		UserID:    interactionUserID(i),
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
}

// validateAttachment rejects anything that is not a reasonably sized image
func validateAttachment(a *discordgo.MessageAttachment) error {
	if a == nil {
		return errNotAnImage
	}
	if !strings.HasPrefix(a.ContentType, "image/") {
		return errNotAnImage
	}
	if a.Size > maxImageBytes {
		return fmt.Errorf("image is larger than %d MB", maxImageBytes>>20)
	}
	return nil
}

// imageAttachment resolves the "image" option to its attachment
func imageAttachment(i *discordgo.InteractionCreate) *discordgo.MessageAttachment {
	data := i.ApplicationCommandData()
	opt, ok := optionMap(i)["image"]
	if !ok || data.Resolved == nil {
		return nil
	}
	id, _ := opt.Value.(string)
	return data.Resolved.Attachments[id]
}

// handleStickerize handles the /stickerize command
func (b *Bot) handleStickerize(s *discordgo.Session, i *discordgo.InteractionCreate) {
	attachment := imageAttachment(i)
	if err := validateAttachment(attachment); err != nil {
		respondEphemeral(s, i, fmt.Sprintf("Please attach a PNG, JPEG or WebP image (%s).", err))
		return
	}
	if !b.animator.Configured() {
		respondEphemeral(s, i, "Animation is not available right now. Please try again later.")
		return
	}

	// Respond immediately to avoid timeout
	deferResponse(s, i, false)

	rc := requestContext(i)
	verdict, err := b.controller.Admit(context.Background(), rc)
	if err != nil {
		slog.Error("Admission failed", "user", rc.UserID, "guild", rc.GuildID, "error", err)
		b.editResponse(s, i, "Something went wrong checking your limits. Please try again.")
		return
	}
	metrics.RecordVerdict(verdict)

	if !verdict.Admitted {
		slog.Info("Request denied", "user", rc.UserID, "guild", rc.GuildID, "tier", verdict.Tier, "reason", verdict.Reason)
		b.editResponse(s, i, denialMessage(verdict))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	started := time.Now()
	url, err := b.animator.Animate(ctx, attachment.URL)
	elapsed := time.Since(started)
	metrics.RecordGeneration(elapsed.Seconds(), err == nil)

	b.recordUsage(rc, verdict.Tier, elapsed, err == nil)

	if err != nil {
		slog.Error("Animation failed", "user", rc.UserID, "guild", rc.GuildID, "error", err)
		msg := "Failed to create your animation. Please try again."
		if errors.Is(err, media.ErrPredictionFailed) {
			msg = "The animation model couldn't process this image. Try a different one."
		}
		b.editResponse(s, i, msg)
		return
	}

	slog.Info("Animation delivered", "user", rc.UserID, "guild", rc.GuildID, "tier", verdict.Tier, "duration", elapsed)
	b.editResponse(s, i, fmt.Sprintf("Here's your animated sticker!\n%s\n-# %s", url, quotaFooter(verdict)))
}

// recordUsage writes the usage log entry read by /stickerize-stats
func (b *Bot) recordUsage(rc ratelimit.Context, tier ratelimit.Tier, d time.Duration, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.repo.RecordUsage(ctx, &storage.UsageEvent{
		GuildID:   rc.GuildID,
		UserID:    rc.UserID,
		Tier:      string(tier),
		Duration:  d,
		Succeeded: ok,
	})
	if err != nil {
		slog.Error("Failed to record usage", "user", rc.UserID, "error", err)
	}
}

// handleUsage handles the /usage command
func (b *Bot) handleUsage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	usage, err := b.controller.Peek(ctx, requestContext(i))
	if err != nil {
		slog.Error("Failed to read usage", "user", interactionUserID(i), "error", err)
		respondEphemeral(s, i, "Failed to read your usage. Please try again.")
		return
	}

	respondEphemeral(s, i, "", usageEmbed(usage, b.controller.Limits()))
}

// handleStats handles the /stickerize-stats command
func (b *Bot) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondWithMessage(s, i, "Stats are only available inside a server.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gs, err := b.repo.GuildStats(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to read guild stats", "guild", i.GuildID, "error", err)
		respondWithMessage(s, i, "Failed to retrieve stats.")
		return
	}
	ss, err := b.repo.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read subscription stats", "error", err)
		respondWithMessage(s, i, "Failed to retrieve stats.")
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{statsEmbed(gs, ss)},
		},
	})
}
