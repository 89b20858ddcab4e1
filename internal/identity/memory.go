package identity

import (
	"context"
	"strings"
	"sync"
)

var _ Directory = (*MemDirectory)(nil)

// MemDirectory is an in-process Directory used by dev deployments and tests.
type MemDirectory struct {
	mu     sync.RWMutex
	byID   map[string]*record
	byMail map[string]*record
}

type record struct {
	identity Identity
	hash     string
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		byID:   make(map[string]*record),
		byMail: make(map[string]*record),
	}
}

// Put stores or replaces an identity with its password hash.
func (d *MemDirectory) Put(id Identity, passwordHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := &record{identity: id, hash: passwordHash}
	d.byID[id.ID] = rec
	d.byMail[normalizeEmail(id.Email)] = rec
}

// BumpPermissions increments the permissions version for a subject,
// invalidating every outstanding access token on its next verification.
func (d *MemDirectory) BumpPermissions(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.byID[id]; ok {
		rec.identity.PermissionsVersion++
	}
}

// SetStatus flips an account between active and suspended.
func (d *MemDirectory) SetStatus(id string, status Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.byID[id]; ok {
		rec.identity.Status = status
	}
}

func (d *MemDirectory) FindByID(ctx context.Context, id string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.identity
	return &out, nil
}

func (d *MemDirectory) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byMail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.identity
	return &out, nil
}

func (d *MemDirectory) PermissionsVersion(ctx context.Context, id string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.identity.PermissionsVersion, nil
}

func (d *MemDirectory) Credentials(ctx context.Context, email string) (*Identity, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byMail[normalizeEmail(email)]
	if !ok {
		return nil, "", ErrNotFound
	}
	out := rec.identity
	return &out, rec.hash, nil
}
