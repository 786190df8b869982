package ratelimit

import (
	"sync"
	"time"
)

// Windows sets the rolling window lengths used by a Ledger
type Windows struct {
	User        time.Duration
	GuildHourly time.Duration
	GuildDaily  time.Duration
}

// DefaultWindows returns one hour for users and the guild hourly pool, one day for the daily pool
func DefaultWindows() Windows {
	return Windows{
		User:        time.Hour,
		GuildHourly: time.Hour,
		GuildDaily:  24 * time.Hour,
	}
}

// UsageCounter is a snapshot of a user's personal window
type UsageCounter struct {
	Count   int
	ResetAt time.Time
}

// GuildUsageCounter is a snapshot of a guild's shared free-tier pools
type GuildUsageCounter struct {
	HourlyCount   int
	HourlyResetAt time.Time
	DailyCount    int
	DailyResetAt  time.Time
}

// window is a counter that resets lazily on the first access after resetAt.
// A clock that moved backwards leaves the window open.
type window struct {
	count   int
	resetAt time.Time
}

func (w *window) roll(now time.Time, length time.Duration) {
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(length)
	}
}

func (w *window) elapsed(now time.Time) bool {
	return !now.Before(w.resetAt)
}

type userEntry struct {
	mu      sync.Mutex
	evicted bool
	window  window
}

type guildEntry struct {
	mu      sync.Mutex
	evicted bool
	hourly  window
	daily   window
}

// Ledger tracks per-subject usage in memory. Every entry has its own lock so that a
// check-then-increment on one subject never blocks other subjects.
type Ledger struct {
	mu      sync.Mutex
	users   map[string]*userEntry
	guilds  map[string]*guildEntry
	windows Windows
	now     func() time.Time
}

// NewLedger creates an empty ledger. A nil clock uses time.Now and zero window
// lengths fall back to DefaultWindows.
func NewLedger(w Windows, now func() time.Time) *Ledger {
	def := DefaultWindows()
	if w.User <= 0 {
		w.User = def.User
	}
	if w.GuildHourly <= 0 {
		w.GuildHourly = def.GuildHourly
	}
	if w.GuildDaily <= 0 {
		w.GuildDaily = def.GuildDaily
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		users:   make(map[string]*userEntry),
		guilds:  make(map[string]*guildEntry),
		windows: w,
		now:     now,
	}
}

// lockUser returns the user's entry locked, creating it on first use
func (l *Ledger) lockUser(userID string) *userEntry {
	for {
		l.mu.Lock()
		e, ok := l.users[userID]
		if !ok {
			e = &userEntry{}
			l.users[userID] = e
		}
		l.mu.Unlock()

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// swept between lookup and lock
		e.mu.Unlock()
	}
}

// lockGuild returns the guild's entry locked, creating it on first use
func (l *Ledger) lockGuild(guildID string) *guildEntry {
	for {
		l.mu.Lock()
		e, ok := l.guilds[guildID]
		if !ok {
			e = &guildEntry{}
			l.guilds[guildID] = e
		}
		l.mu.Unlock()

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

func (e *userEntry) snapshot() UsageCounter {
	return UsageCounter{Count: e.window.count, ResetAt: e.window.resetAt}
}

func (e *guildEntry) snapshot() GuildUsageCounter {
	return GuildUsageCounter{
		HourlyCount:   e.hourly.count,
		HourlyResetAt: e.hourly.resetAt,
		DailyCount:    e.daily.count,
		DailyResetAt:  e.daily.resetAt,
	}
}

func (l *Ledger) rollUser(e *userEntry, now time.Time) {
	e.window.roll(now, l.windows.User)
}

func (l *Ledger) rollGuild(e *guildEntry, now time.Time) {
	e.hourly.roll(now, l.windows.GuildHourly)
	e.daily.roll(now, l.windows.GuildDaily)
}

// UserCounter returns the user's counter, creating it or resetting an elapsed window first
func (l *Ledger) UserCounter(userID string) UsageCounter {
	e := l.lockUser(userID)
	defer e.mu.Unlock()

	l.rollUser(e, l.now())
	return e.snapshot()
}

// GuildCounter returns the guild's pools, creating them or resetting elapsed windows first
func (l *Ledger) GuildCounter(guildID string) GuildUsageCounter {
	e := l.lockGuild(guildID)
	defer e.mu.Unlock()

	l.rollGuild(e, l.now())
	return e.snapshot()
}

// IncrementUser charges one request to the user
func (l *Ledger) IncrementUser(userID string) {
	e := l.lockUser(userID)
	defer e.mu.Unlock()

	l.rollUser(e, l.now())
	e.window.count++
}

// IncrementGuild charges one request to both of the guild's pools
func (l *Ledger) IncrementGuild(guildID string) {
	e := l.lockGuild(guildID)
	defer e.mu.Unlock()

	l.rollGuild(e, l.now())
	e.hourly.count++
	e.daily.count++
}

// Sweep drops entries whose windows have all elapsed and returns how many were removed.
// Such an entry would reset to zero on its next read, so dropping it changes no verdict.
// Entries locked by an in-flight admission are skipped.
func (l *Ledger) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.users {
		if !e.mu.TryLock() {
			continue
		}
		if e.window.elapsed(now) {
			e.evicted = true
			delete(l.users, id)
			removed++
		}
		e.mu.Unlock()
	}
	for id, e := range l.guilds {
		if !e.mu.TryLock() {
			continue
		}
		if e.hourly.elapsed(now) && e.daily.elapsed(now) {
			e.evicted = true
			delete(l.guilds, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked users and guilds
func (l *Ledger) Len() (users, guilds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users), len(l.guilds)
}
