package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/arborlabs/arbor/config"
	"github.com/arborlabs/arbor/internal/tree"
)

// EvictionRecorder counts evictions by kind (user, conversation, connection);
// nil disables recording.
type EvictionRecorder interface {
	RecordEviction(kind string)
}

// convEntry is one resident conversation. Its mutex is the per-key gate:
// turns hold it for their whole duration, sweeps only TryLock, so eviction
// can never race an in-flight turn.
type convEntry struct {
	mu         sync.Mutex
	td         *tree.TreeData
	lastActive time.Time
	dirty      bool
}

// Preferences are one user's session settings. Zero durations fall back to
// the process-wide defaults when set; AutoSave is taken as given. The user
// idle timeout stays process-wide.
type Preferences struct {
	ConversationTTL time.Duration
	ConnectionTTL   time.Duration
	AutoSave        bool
}

func defaultPreferences(cfg config.SessionConfig) Preferences {
	return Preferences{
		ConversationTTL: cfg.ConversationTTL,
		ConnectionTTL:   cfg.ConnectionTTL,
		AutoSave:        cfg.AutoSave,
	}
}

// userRecord tracks one user's resident conversations and open connections.
type userRecord struct {
	conversations map[string]*convEntry
	connections   map[string]time.Time
	prefs         Preferences
	lastActive    time.Time
}

// Manager owns the working set of conversations. It loads state from the
// durable store on demand, serializes turns per (user, conversation) key,
// and runs three independent idle sweeps plus an optional autosave schedule.
type Manager struct {
	store    Store
	executor *tree.Executor
	cfg      config.SessionConfig
	logger   *log.Logger
	metrics  EvictionRecorder

	mu    sync.Mutex
	users map[string]*userRecord

	saveSchedule *cronexpr.Expression

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(store Store, executor *tree.Executor, cfg config.SessionConfig, logger *log.Logger, metrics EvictionRecorder) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	m := &Manager{
		store:    store,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		users:    make(map[string]*userRecord),
		stop:     make(chan struct{}),
	}
	if cfg.SaveSchedule != "" {
		expr, err := cronexpr.Parse(cfg.SaveSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid save_schedule: %w", err)
		}
		m.saveSchedule = expr
	}
	return m, nil
}

// Start launches the sweep and autosave goroutines.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
	if m.cfg.AutoSave && m.saveSchedule != nil {
		m.wg.Add(1)
		go m.autosaveLoop()
	}
}

// Shutdown stops background work and flushes every dirty conversation.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return m.SaveAll(ctx)
}

// userLocked returns the record for userID, creating it with default
// preferences if absent. Caller holds m.mu.
func (m *Manager) userLocked(userID string) *userRecord {
	user, ok := m.users[userID]
	if !ok {
		user = &userRecord{
			conversations: make(map[string]*convEntry),
			connections:   make(map[string]time.Time),
			prefs:         defaultPreferences(m.cfg),
		}
		m.users[userID] = user
	}
	return user
}

// SetPreferences replaces the user's session preferences. Zero durations
// fall back to the process-wide configuration.
func (m *Manager) SetPreferences(userID string, p Preferences) {
	if p.ConversationTTL == 0 {
		p.ConversationTTL = m.cfg.ConversationTTL
	}
	if p.ConnectionTTL == 0 {
		p.ConnectionTTL = m.cfg.ConnectionTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userLocked(userID).prefs = p
}

// Preferences returns the user's session preferences, defaults if unknown.
func (m *Manager) Preferences(userID string) Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		return user.prefs
	}
	return defaultPreferences(m.cfg)
}

// resolve returns the resident entry for the key, loading from the durable
// store or creating fresh state on miss. The entry is returned unlocked with
// a fresh lastActive, so a sweep running between resolve and the caller's
// lock cannot see it as idle.
func (m *Manager) resolve(ctx context.Context, userID, conversationID string) (*convEntry, error) {
	m.mu.Lock()
	user := m.userLocked(userID)
	now := time.Now()
	user.lastActive = now
	entry, ok := user.conversations[conversationID]
	if !ok {
		entry = &convEntry{lastActive: now}
		user.conversations[conversationID] = entry
	}
	m.mu.Unlock()

	// Load outside m.mu; the entry mutex protects td and lastActive.
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastActive = time.Now()
	if entry.td == nil {
		td, err := m.store.Load(ctx, userID, conversationID)
		switch {
		case err == nil:
			m.logger.Printf("conversation %s/%s reloaded from store", userID, conversationID)
			entry.td = td
		case errors.Is(err, ErrNotFound):
			entry.td = tree.NewTreeData(userID, conversationID)
		default:
			return nil, err
		}
	}
	return entry, nil
}

// Process runs one turn for the key, serialized against every other turn
// and sweep touching the same conversation. Events are forwarded to out and
// each forwarded event refreshes the idle clocks. The out channel is not
// closed; the turn is over when the completed event arrives.
func (m *Manager) Process(ctx context.Context, userID, conversationID, query string, collections []string, out chan<- tree.Event) error {
	entry, err := m.resolve(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.td.Collections = collections

	events := make(chan tree.Event, 16)
	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- m.executor.RunTurn(ctx, entry.td, query, events)
	}()
	for ev := range events {
		m.touch(userID, entry)
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	runErr := <-done

	entry.dirty = true
	entry.lastActive = time.Now()
	if m.Preferences(userID).AutoSave && m.saveSchedule == nil {
		if err := m.store.Save(ctx, entry.td); err != nil {
			m.logger.Printf("failed to save conversation %s/%s: %v", userID, conversationID, err)
		} else {
			entry.dirty = false
		}
	}
	return runErr
}

// History returns a copy of the conversation history for the key.
func (m *Manager) History(ctx context.Context, userID, conversationID string) ([]tree.Message, error) {
	entry, err := m.resolve(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	history := make([]tree.Message, len(entry.td.History))
	copy(history, entry.td.History)
	return history, nil
}

// Delete removes the conversation from the working set and the store.
func (m *Manager) Delete(ctx context.Context, userID, conversationID string) error {
	m.mu.Lock()
	if user, ok := m.users[userID]; ok {
		delete(user.conversations, conversationID)
	}
	m.mu.Unlock()
	return m.store.Delete(ctx, userID, conversationID)
}

// RegisterConnection records an open client connection for the user.
func (m *Manager) RegisterConnection(userID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.userLocked(userID)
	now := time.Now()
	user.connections[connID] = now
	user.lastActive = now
}

// UnregisterConnection drops a closed connection.
func (m *Manager) UnregisterConnection(userID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		delete(user.connections, connID)
	}
}

// touch refreshes the idle clocks for a user and one of their conversations.
// The caller holds the entry gate.
func (m *Manager) touch(userID string, entry *convEntry) {
	now := time.Now()
	entry.lastActive = now
	m.mu.Lock()
	if user, ok := m.users[userID]; ok {
		user.lastActive = now
	}
	m.mu.Unlock()
}

// SaveAll flushes every dirty resident conversation, skipping any that is
// mid-turn.
func (m *Manager) SaveAll(ctx context.Context) error {
	var firstErr error
	for _, item := range m.snapshot() {
		if !item.entry.mu.TryLock() {
			continue
		}
		if item.entry.dirty && item.entry.td != nil {
			if err := m.store.Save(ctx, item.entry.td); err != nil {
				m.logger.Printf("failed to save conversation %s/%s: %v", item.userID, item.convID, err)
				if firstErr == nil {
					firstErr = err
				}
			} else {
				item.entry.dirty = false
			}
		}
		item.entry.mu.Unlock()
	}
	return firstErr
}

type residentConv struct {
	userID string
	convID string
	entry  *convEntry
	prefs  Preferences
}

func (m *Manager) snapshot() []residentConv {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []residentConv
	for uid, user := range m.users {
		for cid, entry := range user.conversations {
			out = append(out, residentConv{userID: uid, convID: cid, entry: entry, prefs: user.prefs})
		}
	}
	return out
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepConversations()
			m.sweepConnections()
			m.sweepUsers()
		}
	}
}

// sweepConversations evicts conversations idle past the owning user's TTL.
// An entry whose gate cannot be acquired is mid-turn and is skipped. The map
// removal happens while the gate is still held: a concurrent turn either
// refreshed lastActive under the gate already, or will resolve a fresh entry
// after the delete.
func (m *Manager) sweepConversations() {
	now := time.Now()
	for _, item := range m.snapshot() {
		if item.prefs.ConversationTTL <= 0 {
			continue
		}
		cutoff := now.Add(-item.prefs.ConversationTTL)
		if !item.entry.mu.TryLock() {
			continue
		}
		if !item.entry.lastActive.Before(cutoff) {
			item.entry.mu.Unlock()
			continue
		}
		if item.entry.dirty && item.entry.td != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := m.store.Save(ctx, item.entry.td)
			cancel()
			if err != nil {
				m.logger.Printf("eviction save failed for %s/%s, keeping resident: %v", item.userID, item.convID, err)
				item.entry.mu.Unlock()
				continue
			}
			item.entry.dirty = false
		}
		m.mu.Lock()
		if user, ok := m.users[item.userID]; ok {
			if cur, ok := user.conversations[item.convID]; ok && cur == item.entry {
				delete(user.conversations, item.convID)
				m.logger.Printf("conversation %s/%s evicted after idle timeout", item.userID, item.convID)
				if m.metrics != nil {
					m.metrics.RecordEviction("conversation")
				}
			}
		}
		m.mu.Unlock()
		item.entry.mu.Unlock()
	}
}

// sweepConnections drops stale client-connection records and recycles the
// durable-storage client once it has been idle past the connection TTL. The
// store handle is shared, so the shortest resident preference applies.
func (m *Manager) sweepConnections() {
	now := time.Now()
	ttl := m.cfg.ConnectionTTL
	m.mu.Lock()
	for _, user := range m.users {
		if user.prefs.ConnectionTTL > 0 && (ttl <= 0 || user.prefs.ConnectionTTL < ttl) {
			ttl = user.prefs.ConnectionTTL
		}
		for cid, last := range user.connections {
			if user.prefs.ConnectionTTL > 0 && last.Before(now.Add(-user.prefs.ConnectionTTL)) {
				delete(user.connections, cid)
			}
		}
	}
	m.mu.Unlock()

	if ttl <= 0 {
		return
	}
	rec, ok := m.store.(Recycler)
	if !ok {
		return
	}
	if last := rec.IdleSince(); !last.IsZero() && last.Before(now.Add(-ttl)) {
		if err := rec.Recycle(); err != nil {
			m.logger.Printf("storage client recycle failed: %v", err)
			return
		}
		m.logger.Printf("storage client recycled after idle timeout")
		if m.metrics != nil {
			m.metrics.RecordEviction("connection")
		}
	}
}

// sweepUsers drops whole user records idle past the user TTL, conversations
// included. A zero TTL disables this sweep.
func (m *Manager) sweepUsers() {
	if m.cfg.UserTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.UserTTL)
	m.mu.Lock()
	var idle []string
	for uid, user := range m.users {
		if user.lastActive.Before(cutoff) {
			idle = append(idle, uid)
		}
	}
	m.mu.Unlock()
	for _, uid := range idle {
		m.evictUser(uid, cutoff)
	}
}

func (m *Manager) evictUser(userID string, cutoff time.Time) {
	m.mu.Lock()
	user, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return
	}
	// Flush the user's conversations first; a busy one aborts the eviction.
	for _, item := range m.snapshot() {
		if item.userID != userID {
			continue
		}
		if !item.entry.mu.TryLock() {
			return
		}
		if item.entry.dirty && item.entry.td != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := m.store.Save(ctx, item.entry.td)
			cancel()
			if err != nil {
				m.logger.Printf("eviction save failed for %s/%s, keeping user resident: %v", item.userID, item.convID, err)
				item.entry.mu.Unlock()
				return
			}
			item.entry.dirty = false
		}
		item.entry.mu.Unlock()
	}
	m.mu.Lock()
	if cur, ok := m.users[userID]; ok && cur == user && cur.lastActive.Before(cutoff) {
		delete(m.users, userID)
		m.logger.Printf("user %s evicted after idle timeout", userID)
		if m.metrics != nil {
			m.metrics.RecordEviction("user")
		}
	}
	m.mu.Unlock()
}

func (m *Manager) autosaveLoop() {
	defer m.wg.Done()
	for {
		next := m.saveSchedule.Next(time.Now())
		if next.IsZero() {
			return
		}
		select {
		case <-m.stop:
			return
		case <-time.After(time.Until(next)):
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.SaveAll(ctx); err != nil {
				m.logger.Printf("scheduled save incomplete: %v", err)
			}
			cancel()
		}
	}
}
