// Package tabstate owns the per-tab run state: an in-memory cache hydrated
// lazily from the durable store, where every mutation is persisted and
// broadcast to subscribers.
package tabstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/store"
	"github.com/entrhq/quickbar/pkg/types"
)

const keyPrefix = "tabState:"

// InterruptedMessage is logged on tabs whose run was lost to a restart.
const InterruptedMessage = "Run interrupted by restart"

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("tabstate")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize tabstate logger, using stderr fallback: %v", err)
	}
}

// Key returns the durable store key for a tab.
func Key(tabID int) string {
	return keyPrefix + strconv.Itoa(tabID)
}

type entry struct {
	mu     sync.Mutex
	state  *types.TabState
	loaded bool
}

// Manager is the only reader and writer of persisted tab state.
//
// Tab ids are never reused, so once a tab is removed later mutations for it
// are dropped instead of resurrecting the record.
type Manager struct {
	store store.Store
	now   func() time.Time

	mu      sync.Mutex
	tabs    map[int]*entry
	removed map[int]struct{}

	listenersMu sync.RWMutex
	listeners   map[int]types.EventEmitter
	nextID      int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to stamp chat entries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager persisting to s.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		now:       time.Now,
		tabs:      make(map[int]*entry),
		removed:   make(map[int]struct{}),
		listeners: make(map[int]types.EventEmitter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to receive a tabStateUpdated event after every
// mutation. Events for one tab arrive in mutation order. fn must not call
// back into the Manager. The returned func unsubscribes.
func (m *Manager) Subscribe(fn types.EventEmitter) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) broadcast(tabID int, snapshot *types.TabState) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()

	for _, fn := range m.listeners {
		fn(types.NewTabStateUpdatedEvent(tabID, snapshot.Clone()))
	}
}

func (m *Manager) entry(tabID int) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.removed[tabID]; gone {
		return nil, false
	}
	e, ok := m.tabs[tabID]
	if !ok {
		e = &entry{}
		m.tabs[tabID] = e
	}
	return e, true
}

// load must be called with e.mu held.
func (m *Manager) load(ctx context.Context, tabID int, e *entry) error {
	if e.loaded {
		return nil
	}

	raw, err := m.store.Get(ctx, Key(tabID))
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.state = types.NewTabState()
	case err != nil:
		return fmt.Errorf("failed to load tab %d: %w", tabID, err)
	default:
		var state types.TabState
		if err := json.Unmarshal(raw, &state); err != nil {
			log.Warnf("Discarding unreadable state for tab %d: %v", tabID, err)
			state = *types.NewTabState()
		}
		e.state = &state
	}
	e.loaded = true
	return nil
}

// Get returns a snapshot of the tab's state, loading it from the store or
// creating the default on first access.
func (m *Manager) Get(ctx context.Context, tabID int) (*types.TabState, error) {
	e, ok := m.entry(tabID)
	if !ok {
		return types.NewTabState(), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.load(ctx, tabID, e); err != nil {
		return nil, err
	}
	return e.state.Clone(), nil
}

// mutate applies fn to the cached state, persists the whole record and
// broadcasts a snapshot. A persistence failure is returned after the
// broadcast; the cache keeps the change.
func (m *Manager) mutate(ctx context.Context, tabID int, fn func(*types.TabState)) error {
	e, ok := m.entry(tabID)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.load(ctx, tabID, e); err != nil {
		return err
	}

	fn(e.state)

	var persistErr error
	raw, err := json.Marshal(e.state)
	if err != nil {
		persistErr = fmt.Errorf("failed to encode tab %d: %w", tabID, err)
	} else if err := m.store.Set(ctx, Key(tabID), raw); err != nil {
		persistErr = fmt.Errorf("failed to persist tab %d: %w", tabID, err)
	}
	if persistErr != nil {
		log.Errorf("%v", persistErr)
	}

	m.broadcast(tabID, e.state)
	return persistErr
}

// AppendLog appends a log entry to the tab's current run log.
func (m *Manager) AppendLog(ctx context.Context, tabID int, level types.LogLevel, message, detail string) error {
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.Logs = append(s.Logs, types.LogEntry{Level: level, Message: message, Detail: detail})
	})
}

// ResetLogs clears the run log.
func (m *Manager) ResetLogs(ctx context.Context, tabID int) error {
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.Logs = []types.LogEntry{}
	})
}

// AppendChat appends a chat entry. A zero timestamp is stamped with the
// current time.
func (m *Manager) AppendChat(ctx context.Context, tabID int, chat types.ChatEntry) error {
	if chat.Timestamp == 0 {
		chat.Timestamp = m.now().UnixMilli()
	}
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.ChatHistory = append(s.ChatHistory, chat)
	})
}

// SetStatus sets the run status.
func (m *Manager) SetStatus(ctx context.Context, tabID int, status types.Status) error {
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.Status = status
	})
}

// SetSharedContext replaces the shared page snapshot. nil clears it.
func (m *Manager) SetSharedContext(ctx context.Context, tabID int, pc *types.PageContext) error {
	pc = pc.Clone()
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.SharedContext = pc
	})
}

// SetLastPlan records the most recently accepted plan.
func (m *Manager) SetLastPlan(ctx context.Context, tabID int, plan *types.Plan) error {
	plan = plan.Clone()
	return m.mutate(ctx, tabID, func(s *types.TabState) {
		s.LastPlan = plan
	})
}

// Remove drops the tab from the cache and the store.
func (m *Manager) Remove(ctx context.Context, tabID int) error {
	m.mu.Lock()
	e := m.tabs[tabID]
	delete(m.tabs, tabID)
	m.removed[tabID] = struct{}{}
	m.mu.Unlock()

	// Wait out any mutation already in flight so it cannot write after us.
	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if err := m.store.Remove(ctx, Key(tabID)); err != nil {
		return fmt.Errorf("failed to remove tab %d: %w", tabID, err)
	}
	return nil
}

// RecoverOrphans resets every persisted running or paused tab to idle.
// Runs live only in memory, so such records belong to a previous process.
// It returns the ids of the recovered tabs.
func (m *Manager) RecoverOrphans(ctx context.Context) ([]int, error) {
	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tab state: %w", err)
	}

	var recovered []int
	for _, key := range keys {
		tabID, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			log.Warnf("Skipping malformed tab state key %q", key)
			continue
		}

		state, err := m.Get(ctx, tabID)
		if err != nil {
			return recovered, err
		}
		if !state.IsActive() {
			continue
		}

		err = m.mutate(ctx, tabID, func(s *types.TabState) {
			s.Status = types.StatusIdle
			s.Logs = append(s.Logs, types.LogEntry{Level: types.LogLevelWarning, Message: InterruptedMessage})
		})
		if err != nil {
			return recovered, err
		}
		log.Infof("Recovered orphaned run on tab %d (was %s)", tabID, state.Status)
		recovered = append(recovered, tabID)
	}
	return recovered, nil
}
