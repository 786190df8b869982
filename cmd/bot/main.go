package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LavonTMCQ/mistermarketing/internal/bot"
	"github.com/LavonTMCQ/mistermarketing/internal/cardano"
	"github.com/LavonTMCQ/mistermarketing/internal/config"
	"github.com/LavonTMCQ/mistermarketing/internal/health"
	"github.com/LavonTMCQ/mistermarketing/internal/payment"
	"github.com/LavonTMCQ/mistermarketing/internal/storage"
	"github.com/LavonTMCQ/mistermarketing/internal/sweeper"
)

var (
	// Version is set at build time
	Version = "dev"

	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:           "stickerize-bot",
	Short:         "Stickerize Bot - animated Discord stickers with ADA subscriptions",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve slash commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var verifyTxCmd = &cobra.Command{
	Use:   "verify-tx <hash> <ada>",
	Short: "Check whether a transaction pays the configured wallet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expected, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		return verifyTx(cmd.Context(), args[0], expected)
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <user|guild> <id> <tier> <months>",
	Short: "Grant a subscription without an on-chain payment",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		months, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid months %q: %w", args[3], err)
		}
		return grant(cmd.Context(), args[0], args[1], storage.Tier(args[2]), months)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.AddCommand(runCmd, verifyTxCmd, grantCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func runBot(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("Starting Stickerize Bot", "version", Version)

	// Create the bot
	b, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	healthServer := health.NewServer(cfg.HealthAddr, b.Repository())
	b.SetReadiness(healthServer)

	// Start the bot
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return fmt.Errorf("failed to start bot: %w", err)
	}

	slog.Info("Bot is running. Press Ctrl+C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthServer.Run(gctx)
	})
	g.Go(func() error {
		sweeper.New(b.Ledger(), cfg.LedgerSweepInterval).Start(gctx)
		return nil
	})

	err = g.Wait()

	slog.Info("Shutting down...")
	if stopErr := b.Stop(); stopErr != nil {
		slog.Error("Error during shutdown", "error", stopErr)
	}
	slog.Info("Bot stopped")
	return err
}

func verifyTx(ctx context.Context, txHash string, expected float64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	verifier, err := cardano.NewVerifier(cardano.NewClient(cfg.KoiosBaseURL), cfg.PaymentWalletAddress)
	if err != nil {
		return err
	}

	receipt, err := verifier.Verify(ctx, txHash, expected)
	if err != nil {
		return err
	}

	fmt.Printf("Payment accepted: %.6f ADA to %s (block %d)\n", receipt.AmountADA, verifier.Wallet(), receipt.BlockHeight)
	return nil
}

func grant(ctx context.Context, kind, subjectID string, tier storage.Tier, months int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := payment.PlanFor(tier)
	if err != nil {
		return err
	}
	want := storage.ScopePersonal
	if kind == "guild" {
		want = storage.ScopeGuild
	} else if kind != "user" {
		return fmt.Errorf("unknown subject kind %q, expected user or guild", kind)
	}
	if plan.Scope != want {
		return fmt.Errorf("%s subscriptions apply to a %s, not a %s", tier, plan.Scope, kind)
	}

	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer repo.Close()

	// Verification is never reached for grants
	svc := payment.NewService(repo, nil)
	sub, err := svc.Grant(ctx, payment.Grant{
		GrantedBy: "cli",
		SubjectID: subjectID,
		Tier:      tier,
		Months:    months,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Granted %s to %s %s until %s (ref %s)\n", sub.Tier, kind, sub.SubjectID, sub.EndTime.Format("2006-01-02 15:04 MST"), sub.TxHash)
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
