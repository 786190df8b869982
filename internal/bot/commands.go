package bot

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

var (
	minMonths = float64(payment.MinMonths)
	adminOnly = int64(discordgo.PermissionAdministrator)
)

// buildTierChoices creates the tier selection choices from the price list
func buildTierChoices() []*discordgo.ApplicationCommandOptionChoice {
	plans := payment.Plans()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(plans))
	for i, p := range plans {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s - %g ADA/month", p.Tier, p.MonthlyADA),
			Value: string(p.Tier),
		}
	}
	return choices
}

func tierOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "tier",
		Description: "Subscription tier",
		Required:    true,
		Choices:     buildTierChoices(),
	}
}

func monthsOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "months",
		Description: "Duration in months",
		Required:    true,
		MinValue:    &minMonths,
		MaxValue:    float64(payment.MaxMonths),
	}
}

// Slash command definitions
func getCommandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "stickerize",
			Description: "Turn an image into an animated sticker",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "image",
					Description: "The image to animate",
					Required:    true,
				},
			},
		},
		{
			Name:        "usage",
			Description: "Show how many animations you have left",
		},
		{
			Name:        "stickerize-stats",
			Description: "Show animation statistics for this server",
		},
		{
			Name:        "subscribe",
			Description: "Get payment instructions for a subscription",
			Options:     []*discordgo.ApplicationCommandOption{tierOption(), monthsOption()},
		},
		{
			Name:        "verify-payment",
			Description: "Activate a subscription with an ADA transaction",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "transaction_hash",
					Description: "The hash of your payment transaction",
					Required:    true,
				},
				tierOption(),
				monthsOption(),
			},
		},
		{
			Name:        "subscription",
			Description: "Show your subscription status",
		},
		{
			Name:                     "admin-verify",
			Description:              "Manually grant a subscription",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user who paid (Server tier applies to this server)",
					Required:    true,
				},
				tierOption(),
				monthsOption(),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "transaction_hash",
					Description: "Payment transaction, if any",
				},
			},
		},
		{
			Name:                     "admin-debug-tx",
			Description:              "Inspect a transaction's outputs",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "transaction_hash",
					Description: "The transaction to inspect",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "expected_amount",
					Description: "Expected ADA amount",
					Required:    true,
				},
			},
		},
		{
			Name:                     "admin-balance",
			Description:              "Show the payment wallet balance",
			DefaultMemberPermissions: &adminOnly,
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	appID := b.config.DiscordApplicationID
	if appID == "" {
		appID = b.session.State.User.ID
	}

	commandDefinitions := getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			appID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// Helper functions

// optionMap indexes the top-level options of a command by name
func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

// interactionUserID returns the invoking user in guilds and in DMs
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// parsePurchase reads the tier and months options shared by the payment commands
func parsePurchase(opts map[string]*discordgo.ApplicationCommandInteractionDataOption) (storage.Tier, int) {
	var (
		tier   storage.Tier
		months int
	)
	if o, ok := opts["tier"]; ok {
		tier = storage.Tier(o.StringValue())
	}
	if o, ok := opts["months"]; ok {
		months = int(o.IntValue())
	}
	return tier, months
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string, embeds ...*discordgo.MessageEmbed) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}

func (b *Bot) editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	empty := ""
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &empty,
		Embeds:  &[]*discordgo.MessageEmbed{embed},
	})
}
