package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/config"
	"github.com/LavonTMCQ/mistermarketing/internal/media"
	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/ratelimit"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// Readiness receives connection state changes
type Readiness interface {
	SetReady(ready bool)
}

// Bot represents the Discord bot instance
type Bot struct {
	config     *config.Config
	session    *discordgo.Session
	repo       *storage.Repository
	ledger     *ratelimit.Ledger
	controller *ratelimit.Controller
	koios      *cardano.Client
	verifier   *cardano.Verifier
	payments   *payment.Service
	animator   *media.Client
	readiness  Readiness
	commands   []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Payments
	koios := cardano.NewClient(cfg.KoiosBaseURL)
	verifier, err := cardano.NewVerifier(koios, cfg.PaymentWalletAddress)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize payment verifier: %w", err)
	}

	// Admission
	ledger := ratelimit.NewLedger(ratelimit.DefaultWindows(), nil)
	resolver := ratelimit.NewResolver(repo, ratelimit.Overrides{
		AdminUserID:  cfg.AdminUserID,
		VIPChannelID: cfg.VIPChannelID,
	}, cfg.StandardHourlyLimit, nil)
	controller := ratelimit.NewController(resolver, ledger, ratelimit.Limits{
		GuildHourly: cfg.GuildHourlyLimit,
		GuildDaily:  cfg.GuildDailyLimit,
	})

	animator := media.NewClient(cfg.ReplicateAPIToken, cfg.ReplicateModelVersion)
	if !animator.Configured() {
		slog.Warn("REPLICATE_API_TOKEN not set, /stickerize will be unavailable")
	}

	b := &Bot{
		config:     cfg,
		session:    session,
		repo:       repo,
		ledger:     ledger,
		controller: controller,
		koios:      koios,
		verifier:   verifier,
		payments:   payment.NewService(repo, verifier),
		animator:   animator,
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// Repository returns the bot's storage
func (b *Bot) Repository() *storage.Repository {
	return b.repo
}

// Ledger returns the in-memory usage ledger
func (b *Bot) Ledger() *ratelimit.Ledger {
	return b.ledger
}

// SetReadiness registers a receiver for connection state
func (b *Bot) SetReadiness(r Readiness) {
	b.readiness = r
}

func (b *Bot) setReady(ready bool) {
	if b.readiness != nil {
		b.readiness.SetReady(ready)
	}
}

// Start opens the Discord connection and registers slash commands
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	b.setReady(false)

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleGuildCreate)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
		b.setReady(true)
	})
	b.session.AddHandler(func(s *discordgo.Session, d *discordgo.Disconnect) {
		slog.Warn("Disconnected from Discord")
		b.setReady(false)
	})
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Resumed) {
		slog.Info("Discord session resumed")
		b.setReady(true)
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "stickerize":
		b.handleStickerize(s, i)
	case "usage":
		b.handleUsage(s, i)
	case "stickerize-stats":
		b.handleStats(s, i)
	case "subscribe":
		b.handleSubscribe(s, i)
	case "verify-payment":
		b.handleVerifyPayment(s, i)
	case "subscription":
		b.handleSubscription(s, i)
	case "admin-verify":
		b.handleAdminVerify(s, i)
	case "admin-debug-tx":
		b.handleAdminDebugTx(s, i)
	case "admin-balance":
		b.handleAdminBalance(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
