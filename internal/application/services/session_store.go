package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
)

const sessionSnapshotPrefix = "session:v1:"

// SessionStore keeps one UserSession per user. Updates for the same user are
// serialized on a per-user lock; different users never contend beyond the
// map lookup.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	// evictedAt remembers users whose session was swept, so their next
	// event is reported as an expired session rather than a first contact.
	evictedAt map[string]time.Time

	ttl       time.Duration
	now       func() time.Time
	snapshots providers.CacheProvider
	logger    zerolog.Logger
}

type sessionEntry struct {
	mu        sync.Mutex
	session   *entities.UserSession
	evicted   bool
	restarted bool
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithSnapshots mirrors every committed session into cache so it can be
// restored after a restart.
func WithSnapshots(cache providers.CacheProvider) SessionStoreOption {
	return func(s *SessionStore) { s.snapshots = cache }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger zerolog.Logger) SessionStoreOption {
	return func(s *SessionStore) { s.logger = logger }
}

// NewSessionStore creates a store whose sessions expire after ttl of inactivity.
func NewSessionStore(ttl time.Duration, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		entries:   make(map[string]*sessionEntry),
		evictedAt: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the idle timeout.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Get returns a copy of the user's live session, or nil when there is none or
// it has idled out.
func (s *SessionStore) Get(ctx context.Context, userID string) *entities.UserSession {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.session == nil || e.session.Idle(s.now(), s.ttl) {
		return nil
	}
	return e.session.Clone()
}

// GetOrCreate returns a copy of the user's session, creating a default one if needed.
func (s *SessionStore) GetOrCreate(ctx context.Context, userID string) *entities.UserSession {
	e := s.acquire(ctx, userID)
	defer e.mu.Unlock()

	now := s.now()
	if e.session.Idle(now, s.ttl) {
		e.session = entities.NewUserSession(userID, now)
	}
	return e.session.Clone()
}

// Update applies mutate to a copy of the user's session and commits it only if
// mutate succeeds. mutate runs under the user's lock and must not block.
func (s *SessionStore) Update(ctx context.Context, userID string, mutate func(*entities.UserSession) error) (*entities.UserSession, error) {
	e := s.acquire(ctx, userID)
	defer e.mu.Unlock()

	now := s.now()
	current := e.session
	restarted := e.restarted
	e.restarted = false
	if current.Idle(now, s.ttl) {
		current = entities.NewUserSession(userID, now)
		restarted = true
		e.session = current
	}

	work := current.Clone()
	work.Restarted = restarted
	if err := mutate(work); err != nil {
		return nil, err
	}

	work.Restarted = false
	work.UpdatedAt = now
	e.session = work
	s.saveSnapshot(ctx, work)

	return work.Clone(), nil
}

// Reset replaces the user's session with a fresh default one.
func (s *SessionStore) Reset(ctx context.Context, userID string) *entities.UserSession {
	e := s.acquire(ctx, userID)
	defer e.mu.Unlock()

	fresh := entities.NewUserSession(userID, s.now())
	if e.session != nil && e.session.Pagination != nil {
		// keep generations monotonic so an in-flight fetch cannot land on the fresh session
		fresh.Pagination = &entities.PaginationState{
			Status:     entities.PaginationIdle,
			PageIndex:  -1,
			Generation: e.session.Pagination.Generation + 1,
		}
	}
	e.session = fresh
	e.restarted = false
	s.deleteSnapshot(ctx, userID)

	return fresh.Clone()
}

// EvictIdle removes sessions untouched for longer than ttl and returns how
// many were removed. Sessions currently being updated are skipped.
func (s *SessionStore) EvictIdle(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.session == nil || e.session.Idle(now, ttl) {
			e.evicted = true
			delete(s.entries, userID)
			if e.session != nil && e.session.Origin != nil {
				s.evictedAt[userID] = now
			}
			removed++
		}
		e.mu.Unlock()
	}

	for userID, at := range s.evictedAt {
		if now.Sub(at) > ttl {
			delete(s.evictedAt, userID)
		}
	}
	return removed
}

// Len returns the number of sessions held in memory.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// acquire returns the user's entry locked, creating or restoring the session.
func (s *SessionStore) acquire(ctx context.Context, userID string) *sessionEntry {
	for {
		s.mu.Lock()
		e, ok := s.entries[userID]
		if !ok {
			e = &sessionEntry{}
			if _, swept := s.evictedAt[userID]; swept {
				e.restarted = true
				delete(s.evictedAt, userID)
			}
			s.entries[userID] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.evicted {
			// lost a race with EvictIdle; the map no longer holds this entry
			e.mu.Unlock()
			continue
		}
		if e.session == nil {
			e.session = s.loadSnapshot(ctx, userID)
			if e.session == nil {
				e.session = entities.NewUserSession(userID, s.now())
			}
		}
		return e
	}
}

func (s *SessionStore) saveSnapshot(ctx context.Context, session *entities.UserSession) {
	if s.snapshots == nil {
		return
	}
	payload, err := json.Marshal(session)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("failed to encode session snapshot")
		return
	}
	if err := s.snapshots.Set(ctx, sessionSnapshotPrefix+session.UserID, payload, int(s.ttl.Seconds())); err != nil {
		s.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("failed to store session snapshot")
	}
}

func (s *SessionStore) loadSnapshot(ctx context.Context, userID string) *entities.UserSession {
	if s.snapshots == nil {
		return nil
	}
	payload, err := s.snapshots.Get(ctx, sessionSnapshotPrefix+userID)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load session snapshot")
		}
		return nil
	}

	var session entities.UserSession
	if err := json.Unmarshal(payload, &session); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("discarding unreadable session snapshot")
		return nil
	}
	if session.UserID != userID || session.Idle(s.now(), s.ttl) {
		return nil
	}

	// a fetch that was running in another process will never report back
	if p := session.Pagination; p != nil && p.InFlight {
		p.InFlight = false
		p.Generation++
		if p.PageIndex >= 0 {
			p.Status = entities.PaginationPageReady
		} else {
			p.Status = entities.PaginationIdle
		}
	}
	return &session
}

func (s *SessionStore) deleteSnapshot(ctx context.Context, userID string) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Delete(ctx, sessionSnapshotPrefix+userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to delete session snapshot")
	}
}
