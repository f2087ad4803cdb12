package memory

import (
	"context"

	"marketmod/internal/domain"

	"github.com/google/uuid"
)

// undoLog remembers the first prior state of every user and document written
// inside a transaction. A nil entry means the row did not exist.
type undoLog struct {
	documents map[uuid.UUID]*domain.VerificationDocument
	users     map[uuid.UUID]*domain.User
}

type undoKey struct{}

func undoFrom(ctx context.Context) *undoLog {
	u, _ := ctx.Value(undoKey{}).(*undoLog)
	return u
}

// Callers hold s.mu.
func (u *undoLog) keepDocument(id uuid.UUID, before *domain.VerificationDocument) {
	if u == nil {
		return
	}
	if _, seen := u.documents[id]; !seen {
		u.documents[id] = before
	}
}

// Callers hold s.mu.
func (u *undoLog) keepUser(id uuid.UUID, before *domain.User) {
	if u == nil {
		return
	}
	if _, seen := u.users[id]; !seen {
		u.users[id] = before
	}
}

// Transactor gives the in-memory store the same all-or-nothing unit of work
// as postgres.Transactor. Only user and document writes are rolled back.
type Transactor struct{ s *Store }

// Transactor returns the store's transaction runner.
func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }

func (t *Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if undoFrom(ctx) != nil {
		return fn(ctx)
	}
	log := &undoLog{
		documents: make(map[uuid.UUID]*domain.VerificationDocument),
		users:     make(map[uuid.UUID]*domain.User),
	}
	if err := fn(context.WithValue(ctx, undoKey{}, log)); err != nil {
		t.rollback(log)
		return err
	}
	return nil
}

func (t *Transactor) rollback(log *undoLog) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, before := range log.documents {
		if before == nil {
			delete(t.s.documents, id)
			continue
		}
		t.s.documents[id] = before
	}
	for id, before := range log.users {
		if before == nil {
			delete(t.s.users, id)
			continue
		}
		t.s.users[id] = before
	}
}
