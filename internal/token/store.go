package token

import (
	"context"
	"sync"
	"time"
)

// Session is the server-side bookkeeping for one subject+application pair.
// Its ID stays stable across refresh rotations; only the refresh hash moves.
// Revocation works by deleting the session, so a token's own content is never
// the last word on validity.
type Session struct {
	ID          string
	SubjectID   string
	App         string
	RefreshHash string
	// PermissionsVersion snapshots the directory counter at issuance so a
	// refresh after a role change forces full re-authentication.
	PermissionsVersion int64
	// AuthTime is when credentials were last presented. Rotation preserves
	// it, so "recently authenticated" checks survive token refreshes.
	AuthTime         time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	RotatedAt        time.Time
}

// SessionStore persists sessions. Implementations must make Rotate an atomic
// compare-and-swap on the refresh hash: of two concurrent refresh calls with
// the same token, exactly one may win.
type SessionStore interface {
	// Save records a session, replacing any prior session for the same
	// subject and application.
	Save(ctx context.Context, s Session) error

	Find(ctx context.Context, id string) (Session, error)

	// Rotate swaps the refresh hash if and only if the stored hash equals
	// oldHash. It returns ErrAlreadyUsed on a hash mismatch and ErrRevoked
	// when the session is gone.
	Rotate(ctx context.Context, id, oldHash, newHash string, newExpiry time.Time) error

	// Revoke removes the session for subject+app; RevokeAll removes every
	// session the subject holds across applications.
	Revoke(ctx context.Context, subjectID, app string) error
	RevokeAll(ctx context.Context, subjectID string) error
}

var _ SessionStore = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// single-instance deployments; multi-instance deployments need RedisStore so
// revocations are visible everywhere.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]Session
	bySubject map[string]string // subject+app -> session id
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]Session),
		bySubject: make(map[string]string),
		now:       time.Now,
	}
}

func subjectKey(subjectID, app string) string {
	return subjectID + "\x00" + app
}

func (m *MemoryStore) Save(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectKey(s.SubjectID, s.App)
	if oldID, ok := m.bySubject[key]; ok {
		delete(m.byID, oldID)
	}
	m.byID[s.ID] = s
	m.bySubject[key] = s.ID
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrRevoked
	}
	if m.now().After(s.RefreshExpiresAt) {
		delete(m.byID, id)
		delete(m.bySubject, subjectKey(s.SubjectID, s.App))
		return Session{}, ErrExpired
	}
	return s, nil
}

func (m *MemoryStore) Rotate(ctx context.Context, id, oldHash, newHash string, newExpiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrRevoked
	}
	if s.RefreshHash != oldHash {
		return ErrAlreadyUsed
	}
	s.RefreshHash = newHash
	s.RefreshExpiresAt = newExpiry
	s.RotatedAt = m.now().UTC()
	m.byID[id] = s
	return nil
}

func (m *MemoryStore) Revoke(ctx context.Context, subjectID, app string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectKey(subjectID, app)
	if id, ok := m.bySubject[key]; ok {
		delete(m.byID, id)
		delete(m.bySubject, key)
	}
	return nil
}

func (m *MemoryStore) RevokeAll(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, id := range m.bySubject {
		s, ok := m.byID[id]
		if ok && s.SubjectID == subjectID {
			delete(m.byID, id)
			delete(m.bySubject, key)
		}
	}
	return nil
}
