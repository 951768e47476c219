package persistence

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/repository"
	domainErrors "github.com/modelgate/modelgate/pkg/errors"
)

const sessionQueueSize = 256

// SessionStore is the live in-memory session map. Non-ephemeral sessions
// get an append hook that schedules each turn for the durable log on a
// single writer goroutine, so the agent loop never waits on the database;
// ephemeral sessions live and die in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
	repo     repository.SessionRepository // nil disables persistence
	logger   *zap.Logger

	sendMu  sync.RWMutex
	closed  bool
	pending chan persistJob
	done    chan struct{}
	dropped atomic.Int64
}

// persistJob carries value copies captured under the session's owner lock,
// so the writer goroutine never reads live session state.
type persistJob struct {
	header entity.Session
	turn   entity.Turn
}

// NewSessionStore creates the store. A nil repo keeps sessions memory-only.
func NewSessionStore(repo repository.SessionRepository, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionStore{
		sessions: make(map[string]*entity.Session),
		repo:     repo,
		logger:   logger.Named("sessions"),
	}
	if repo != nil {
		s.pending = make(chan persistJob, sessionQueueSize)
		s.done = make(chan struct{})
		go s.run()
	}
	return s
}

// GetOrCreate returns the live session for id, rehydrating a persisted one
// if this process has not seen it yet.
func (s *SessionStore) GetOrCreate(ctx context.Context, id string, ephemeral bool) *entity.Session {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return session
	}

	if !ephemeral && s.repo != nil {
		persisted, err := s.repo.FindByID(ctx, id)
		switch {
		case err == nil:
			return s.adopt(id, persisted)
		case !domainErrors.IsNotFound(err):
			s.logger.Warn("session rehydration failed",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}

	session = s.adopt(id, entity.NewSession(id, ephemeral))

	if !session.Ephemeral && s.repo != nil {
		if err := s.repo.SaveSession(ctx, session); err != nil {
			s.logger.Warn("session save failed",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}
	return session
}

// adopt installs candidate under id unless a concurrent caller won the race,
// in which case the winner is returned. The winner gets the persistence
// hook when it is durable.
func (s *SessionStore) adopt(id string, candidate *entity.Session) *entity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing
	}
	if !candidate.Ephemeral && s.repo != nil {
		candidate.SetAppendHook(s.hookFor(candidate))
	}
	s.sessions[id] = candidate
	return candidate
}

// hookFor copies the header fields the repository needs while the caller
// still holds the session's owner lock, then hands off to the writer.
func (s *SessionStore) hookFor(session *entity.Session) func(entity.Turn) {
	return func(turn entity.Turn) {
		meta := make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			meta[k] = v
		}
		s.schedule(persistJob{
			header: entity.Session{
				ID:        session.ID,
				CreatedAt: session.CreatedAt,
				UpdatedAt: session.UpdatedAt,
				Metadata:  meta,
			},
			turn: turn,
		})
	}
}

// schedule queues one turn for the durable log. It never blocks; holding
// the read lock across the send keeps a concurrent Close from closing the
// channel mid-append.
func (s *SessionStore) schedule(job persistJob) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.pending <- job:
	default:
		s.dropped.Add(1)
		s.logger.Warn("session persist queue full, turn dropped",
			zap.String("session_id", job.header.ID))
	}
}

// run owns the repository writes: one goroutine, in append order.
func (s *SessionStore) run() {
	defer close(s.done)
	for job := range s.pending {
		ctx := context.Background()
		if err := s.repo.AppendTurn(ctx, job.header.ID, job.turn); err != nil {
			s.logger.Warn("turn append failed",
				zap.String("session_id", job.header.ID),
				zap.Error(err))
			continue
		}
		if err := s.repo.SaveSession(ctx, &job.header); err != nil {
			s.logger.Warn("session update failed",
				zap.String("session_id", job.header.ID),
				zap.Error(err))
		}
	}
}

// Close drains queued turns and stops the writer. Idempotent.
func (s *SessionStore) Close() {
	if s.repo == nil {
		return
	}
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	close(s.pending)
	s.sendMu.Unlock()

	<-s.done
}

// Dropped reports how many turns were discarded on a full queue.
func (s *SessionStore) Dropped() int64 {
	return s.dropped.Load()
}

// Get returns the live session for id without creating one.
func (s *SessionStore) Get(id string) (*entity.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// ActiveCount reports how many sessions are live in memory.
func (s *SessionStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs lists the live session ids, sorted.
func (s *SessionStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
