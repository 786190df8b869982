package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MonthDuration is the length of one purchased month
const MonthDuration = 30 * 24 * time.Hour

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("storage: not found")
	// ErrTxAlreadyUsed is returned when a payment transaction was already applied
	ErrTxAlreadyUsed = errors.New("storage: transaction already used")
)

// Repository handles all database operations
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Repository
type Option func(*Repository)

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string, opts ...Option) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subject_id VARCHAR(20) NOT NULL,
			scope VARCHAR(10) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			amount_paid REAL NOT NULL DEFAULT 0,
			tx_hash VARCHAR(100) NOT NULL,
			purchased_by VARCHAR(20) NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (subject_id, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			tx_hash VARCHAR(100) PRIMARY KEY,
			subject_id VARCHAR(20) NOT NULL,
			scope VARCHAR(10) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			months INTEGER NOT NULL,
			amount_ada REAL NOT NULL,
			verified_by VARCHAR(20) NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL DEFAULT '',
			user_id VARCHAR(20) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_subject ON payments(subject_id, scope)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_guild ON usage_events(guild_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const subscriptionColumns = `subject_id, scope, tier, start_time, end_time, amount_paid, tx_hash, purchased_by, active, created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		s                            Subscription
		start, end, created, updated int64
		active                       int
	)
	err := row.Scan(&s.SubjectID, &s.Scope, &s.Tier, &start, &end, &s.AmountPaid, &s.TxHash, &s.PurchasedBy, &active, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.StartTime = fromMillis(start)
	s.EndTime = fromMillis(end)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	s.Active = active == 1
	return &s, nil
}

// Subscription operations

// GetSubscription returns the stored subscription for a subject, active or not.
// A row found past its end time is marked inactive before it is returned.
func (r *Repository) GetSubscription(ctx context.Context, subjectID string, scope Scope) (*Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subject_id = ? AND scope = ?`,
		subjectID, scope,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := r.expireIfDue(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ActiveSubscription returns the subscription only while it grants its tier, or nil
func (r *Repository) ActiveSubscription(ctx context.Context, subjectID string, scope Scope) (*Subscription, error) {
	sub, err := r.GetSubscription(ctx, subjectID, scope)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sub.ActiveAt(r.now()) {
		return nil, nil
	}
	return sub, nil
}

// expireIfDue flips the persisted active flag once the end time has passed
func (r *Repository) expireIfDue(ctx context.Context, sub *Subscription) error {
	now := r.now()
	if !sub.Active || now.Before(sub.EndTime) {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0, updated_at = ? WHERE subject_id = ? AND scope = ? AND active = 1`,
		toMillis(now), sub.SubjectID, sub.Scope,
	)
	if err != nil {
		return fmt.Errorf("failed to expire subscription: %w", err)
	}

	sub.Active = false
	sub.UpdatedAt = now
	slog.Info("Subscription expired", "subject", sub.SubjectID, "scope", sub.Scope, "tier", sub.Tier)
	return nil
}

// SubscriptionUpdate describes a purchase or grant applied to a subject
type SubscriptionUpdate struct {
	SubjectID   string
	Scope       Scope
	Tier        Tier
	Months      int
	AmountPaid  float64
	TxHash      string
	PurchasedBy string
	VerifiedBy  string
}

// UpsertSubscription creates the subject's subscription or extends the existing one.
// Extension starts at the later of now and the current end time, accumulates the amount
// paid and takes the new tier. Each transaction hash can be applied once.
func (r *Repository) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) (*Subscription, error) {
	if u.Months <= 0 {
		return nil, fmt.Errorf("invalid subscription length: %d months", u.Months)
	}
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (tx_hash, subject_id, scope, tier, months, amount_ada, verified_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.TxHash, u.SubjectID, u.Scope, u.Tier, u.Months, u.AmountPaid, u.VerifiedBy, toMillis(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrTxAlreadyUsed
		}
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	existing, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subject_id = ? AND scope = ?`,
		u.SubjectID, u.Scope,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	length := time.Duration(u.Months) * MonthDuration
	var sub *Subscription
	if existing == nil {
		sub = &Subscription{
			SubjectID:   u.SubjectID,
			Scope:       u.Scope,
			Tier:        u.Tier,
			StartTime:   now,
			EndTime:     now.Add(length),
			AmountPaid:  u.AmountPaid,
			TxHash:      u.TxHash,
			PurchasedBy: u.PurchasedBy,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			sub.SubjectID, sub.Scope, sub.Tier, toMillis(sub.StartTime), toMillis(sub.EndTime),
			sub.AmountPaid, sub.TxHash, sub.PurchasedBy, toMillis(now), toMillis(now),
		)
	} else {
		sub = existing
		from := now
		if sub.EndTime.After(now) {
			from = sub.EndTime
		} else {
			sub.StartTime = now
		}
		sub.EndTime = from.Add(length)
		sub.Tier = u.Tier
		sub.AmountPaid += u.AmountPaid
		sub.TxHash = u.TxHash
		sub.PurchasedBy = u.PurchasedBy
		sub.Active = true
		sub.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE subscriptions SET tier = ?, start_time = ?, end_time = ?, amount_paid = ?, tx_hash = ?,
			 purchased_by = ?, active = 1, updated_at = ? WHERE subject_id = ? AND scope = ?`,
			sub.Tier, toMillis(sub.StartTime), toMillis(sub.EndTime), sub.AmountPaid, sub.TxHash,
			sub.PurchasedBy, toMillis(now), sub.SubjectID, sub.Scope,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription: %w", err)
	}
	return sub, nil
}

// ListActiveSubscriptions returns every subscription of a scope that is active now
func (r *Repository) ListActiveSubscriptions(ctx context.Context, scope Scope) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE scope = ? AND active = 1 AND end_time > ?`,
		scope, toMillis(r.now()),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Stats summarizes all subscriptions
func (r *Repository) Stats(ctx context.Context) (*SubscriptionStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := r.now()
	stats := &SubscriptionStats{ActiveByTier: make(map[Tier]int)}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		stats.Total++
		stats.TotalRevenue += sub.AmountPaid
		if sub.ActiveAt(now) {
			stats.Active++
			stats.ActiveByTier[sub.Tier]++
		}
	}

	return stats, rows.Err()
}

// Payment operations

// GetPayment finds an applied payment by transaction hash
func (r *Repository) GetPayment(ctx context.Context, txHash string) (*Payment, error) {
	p := &Payment{}
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT tx_hash, subject_id, scope, tier, months, amount_ada, verified_by, created_at FROM payments WHERE tx_hash = ?`,
		txHash,
	).Scan(&p.TxHash, &p.SubjectID, &p.Scope, &p.Tier, &p.Months, &p.AmountADA, &p.VerifiedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// Usage operations

// RecordUsage inserts a usage event
func (r *Repository) RecordUsage(ctx context.Context, e *UsageEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	succeeded := 0
	if e.Succeeded {
		succeeded = 1
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_events (guild_id, user_id, tier, duration_ms, succeeded, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.GuildID, e.UserID, e.Tier, e.Duration.Milliseconds(), succeeded, toMillis(e.CreatedAt),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// GuildStats aggregates usage events recorded for a guild
func (r *Repository) GuildStats(ctx context.Context, guildID string) (*GuildStats, error) {
	stats := &GuildStats{GuildID: guildID}
	var (
		succeeded sql.NullInt64
		avgMs     sql.NullFloat64
		last      sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(succeeded), AVG(CASE WHEN succeeded = 1 THEN duration_ms END), MAX(created_at)
		 FROM usage_events WHERE guild_id = ?`,
		guildID,
	).Scan(&stats.TotalRequests, &succeeded, &avgMs, &last)
	if err != nil {
		return nil, err
	}

	stats.Succeeded = int(succeeded.Int64)
	if avgMs.Valid {
		stats.AverageDuration = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}
	if last.Valid {
		stats.LastUsedAt = fromMillis(last.Int64)
	}
	return stats, nil
}
