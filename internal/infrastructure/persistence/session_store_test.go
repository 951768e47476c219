package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/repository"
	domainErrors "github.com/modelgate/modelgate/pkg/errors"
)

type fakeSessionRepo struct {
	mu         sync.Mutex
	sessions   map[string]*entity.Session
	turns      map[string][]entity.Turn
	saves      int
	appends    int
	finds      int
	failAppend bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*entity.Session),
		turns:    make(map[string][]entity.Turn),
	}
}

func (f *fakeSessionRepo) SaveSession(ctx context.Context, session *entity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepo) AppendTurn(ctx context.Context, sessionID string, turn entity.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.failAppend {
		return domainErrors.NewInternalError("append failed")
	}
	f.turns[sessionID] = append(f.turns[sessionID], turn)
	return nil
}

func (f *fakeSessionRepo) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	seeded, ok := f.sessions[id]
	if !ok {
		return nil, domainErrors.NewNotFoundError("session not found")
	}
	restored := entity.NewSession(id, false)
	restored.CreatedAt = seeded.CreatedAt
	restored.UpdatedAt = seeded.UpdatedAt
	restored.History = append(restored.History, f.turns[id]...)
	return restored, nil
}

func (f *fakeSessionRepo) List(ctx context.Context, limit, offset int) ([]repository.SessionInfo, error) {
	return nil, nil
}

func (f *fakeSessionRepo) CountTurns(ctx context.Context, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.turns[sessionID])), nil
}

func TestSessionStore_CreatesAndReuses(t *testing.T) {
	store := NewSessionStore(nil, nil)

	first := store.GetOrCreate(context.Background(), "sess-1", false)
	second := store.GetOrCreate(context.Background(), "sess-1", false)

	if first != second {
		t.Error("expected the same session instance on repeat access")
	}
	if store.ActiveCount() != 1 {
		t.Errorf("active count: got %d, want 1", store.ActiveCount())
	}
}

func TestSessionStore_WriteBehind(t *testing.T) {
	repo := newFakeSessionRepo()
	store := NewSessionStore(repo, nil)

	session := store.GetOrCreate(context.Background(), "sess-1", false)
	if repo.saves != 1 {
		t.Errorf("saves after create: got %d, want 1", repo.saves)
	}

	stamped := session.Append(entity.Turn{
		Role:    "user",
		Type:    entity.TurnMessage,
		Content: "hello",
	})
	if stamped.Timestamp.IsZero() {
		t.Error("append should stamp the turn")
	}

	store.Close() // drains the persist queue

	if repo.appends != 1 {
		t.Errorf("appends: got %d, want 1", repo.appends)
	}
	if repo.saves != 2 {
		t.Errorf("saves after append: got %d, want 2", repo.saves)
	}
	if got := len(repo.turns["sess-1"]); got != 1 {
		t.Errorf("persisted turns: got %d, want 1", got)
	}
}

func TestSessionStore_PersistsInAppendOrder(t *testing.T) {
	repo := newFakeSessionRepo()
	store := NewSessionStore(repo, nil)

	session := store.GetOrCreate(context.Background(), "sess-order", false)
	for _, content := range []string{"one", "two", "three"} {
		session.Append(entity.Turn{Role: "user", Type: entity.TurnMessage, Content: content})
	}
	store.Close()

	turns := repo.turns["sess-order"]
	if len(turns) != 3 {
		t.Fatalf("persisted turns: got %d, want 3", len(turns))
	}
	for i, want := range []string{"one", "two", "three"} {
		if turns[i].Content != want {
			t.Errorf("turn %d: got %q, want %q", i, turns[i].Content, want)
		}
	}
}

func TestSessionStore_EphemeralStaysInMemory(t *testing.T) {
	repo := newFakeSessionRepo()
	store := NewSessionStore(repo, nil)

	session := store.GetOrCreate(context.Background(), "tmp-1", true)
	session.Append(entity.Turn{
		Role:    "user",
		Type:    entity.TurnMessage,
		Content: "hi",
	})
	store.Close()

	if repo.saves != 0 || repo.appends != 0 || repo.finds != 0 {
		t.Errorf("ephemeral session should never touch the repository: saves=%d appends=%d finds=%d",
			repo.saves, repo.appends, repo.finds)
	}
	if session.TurnCount() != 1 {
		t.Errorf("turn count: got %d, want 1", session.TurnCount())
	}
}

func TestSessionStore_RehydratesPersistedSession(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.sessions["sess-9"] = entity.NewSession("sess-9", false)
	repo.turns["sess-9"] = []entity.Turn{
		{Role: "user", Type: entity.TurnMessage, Content: "first", Timestamp: time.Now()},
		{Role: "assistant", Type: entity.TurnMessage, Content: "second", Timestamp: time.Now()},
	}

	store := NewSessionStore(repo, nil)
	session := store.GetOrCreate(context.Background(), "sess-9", false)

	if session.TurnCount() != 2 {
		t.Fatalf("rehydrated turns: got %d, want 2", session.TurnCount())
	}
	if session.History[0].Content != "first" {
		t.Errorf("turn order wrong: %+v", session.History[0])
	}
	if repo.finds != 1 {
		t.Errorf("finds: got %d, want 1", repo.finds)
	}

	// Second access must hit the in-memory map, not the repository.
	store.GetOrCreate(context.Background(), "sess-9", false)
	if repo.finds != 1 {
		t.Errorf("finds after reuse: got %d, want 1", repo.finds)
	}
}

func TestSessionStore_AppendFailureKeepsMemory(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.failAppend = true
	store := NewSessionStore(repo, nil)

	session := store.GetOrCreate(context.Background(), "sess-2", false)
	session.Append(entity.Turn{
		Role:    "user",
		Type:    entity.TurnMessage,
		Content: "kept",
	})
	store.Close()

	if session.TurnCount() != 1 {
		t.Errorf("memory history should survive repo failure, got %d turns", session.TurnCount())
	}
}

func TestSessionStore_IDsSorted(t *testing.T) {
	store := NewSessionStore(nil, nil)
	store.GetOrCreate(context.Background(), "zeta", true)
	store.GetOrCreate(context.Background(), "alpha", true)
	store.GetOrCreate(context.Background(), "mid", true)

	ids := store.IDs()
	want := []string{"alpha", "mid", "zeta"}
	if len(ids) != len(want) {
		t.Fatalf("ids: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids: got %v, want %v", ids, want)
		}
	}
}
