package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/user"
)

type UserRepo struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

var _ user.Repository = (*UserRepo)(nil)

func NewUserRepo(ids ...uuid.UUID) *UserRepo {
	r := &UserRepo{ids: map[uuid.UUID]struct{}{}}
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	return r
}

func (r *UserRepo) Add(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

func (r *UserRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok, nil
}
