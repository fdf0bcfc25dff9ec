package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

type MessageRepo struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]message.Message
}

var _ message.Repository = (*MessageRepo)(nil)

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{rows: map[uuid.UUID]message.Message{}}
}

func (r *MessageRepo) Save(ctx context.Context, m *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[m.ID]; ok {
		return apperror.NewConflict("message", "id", m.ID.String())
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = message.StatusSent
	}
	r.rows[m.ID] = *m
	return nil
}

func (r *MessageRepo) FindByID(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, apperror.NewNotFound("message", id.String())
	}
	return &m, nil
}

func (r *MessageRepo) UpdateMultimediaStatus(ctx context.Context, id uuid.UUID, status multimedia.Status) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, apperror.NewNotFound("message", id.String())
	}
	m.MultimediaStatus = &status
	m.UpdatedAt = time.Now().UTC()
	r.rows[id] = m
	return &m, nil
}

func (r *MessageRepo) ListBySender(ctx context.Context, userID uuid.UUID, limit int) ([]*message.Message, error) {
	return r.list(func(m message.Message) bool { return m.SenderID == userID }, limit), nil
}

func (r *MessageRepo) ListByReceiver(ctx context.Context, userID uuid.UUID, limit int) ([]*message.Message, error) {
	return r.list(func(m message.Message) bool { return m.ReceiverID == userID }, limit), nil
}

func (r *MessageRepo) ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]*message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*message.Message, 0)
	for _, m := range r.rows {
		if m.MultimediaStatus == nil || m.MultimediaStatus.Terminal() || !m.UpdatedAt.Before(olderThan) {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Touch moves a message's updated_at, for tests that age rows.
func (r *MessageRepo) Touch(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		m.UpdatedAt = at
		r.rows[id] = m
	}
}

func (r *MessageRepo) list(match func(message.Message) bool, limit int) []*message.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*message.Message, 0)
	for _, m := range r.rows {
		if match(m) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
