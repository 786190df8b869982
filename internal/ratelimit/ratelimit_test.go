package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LavonTMCQ/mistermarketing/internal/storage"
)

// fakeClock is a settable time source shared by the ledger and resolver under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type subKey struct {
	subject string
	scope   storage.Scope
}

// memStore is an in-memory SubscriptionStore that mimics the repository's lazy expiry
type memStore struct {
	mu    sync.Mutex
	clock *fakeClock
	subs  map[subKey]*storage.Subscription
	err   error
	reads int
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{clock: clock, subs: make(map[subKey]*storage.Subscription)}
}

func (m *memStore) put(subject string, scope storage.Scope, tier storage.Tier, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[subKey{subject, scope}] = &storage.Subscription{
		SubjectID: subject,
		Scope:     scope,
		Tier:      tier,
		EndTime:   end,
		Active:    true,
	}
}

func (m *memStore) get(subject string, scope storage.Scope) *storage.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[subKey{subject, scope}]
}

func (m *memStore) ActiveSubscription(_ context.Context, subject string, scope storage.Scope) (*storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	sub, ok := m.subs[subKey{subject, scope}]
	if !ok {
		return nil, nil
	}
	if sub.Active && !m.clock.Now().Before(sub.EndTime) {
		sub.Active = false
	}
	if !sub.Active {
		return nil, nil
	}
	return sub, nil
}

var errStoreDown = errors.New("store down")

type harness struct {
	clock      *fakeClock
	store      *memStore
	ledger     *Ledger
	resolver   *Resolver
	controller *Controller
}

func newHarness(overrides Overrides) *harness {
	clock := newFakeClock()
	store := newMemStore(clock)
	limits := DefaultLimits()
	ledger := NewLedger(DefaultWindows(), clock.Now)
	resolver := NewResolver(store, overrides, limits.StandardHourly, clock.Now)
	return &harness{
		clock:      clock,
		store:      store,
		ledger:     ledger,
		resolver:   resolver,
		controller: NewController(resolver, ledger, limits),
	}
}
