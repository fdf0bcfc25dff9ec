// Package memory holds process-local repositories for tests and
// single-node development (db.driver=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

type MultimediaRepo struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]multimedia.Multimedia
	now  func() time.Time
}

var _ multimedia.Repository = (*MultimediaRepo)(nil)

func NewMultimediaRepo() *MultimediaRepo {
	return &MultimediaRepo{rows: map[uuid.UUID]multimedia.Multimedia{}, now: time.Now}
}

func (r *MultimediaRepo) Save(ctx context.Context, m *multimedia.Multimedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[m.ID]; ok {
		return apperror.NewConflict("multimedia", "id", m.ID.String())
	}
	now := r.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.rows[m.ID] = *m
	return nil
}

func (r *MultimediaRepo) FindByID(ctx context.Context, id uuid.UUID) (*multimedia.Multimedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, apperror.NewNotFound("multimedia", id.String())
	}
	return &m, nil
}

func (r *MultimediaRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*multimedia.Multimedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*multimedia.Multimedia, len(ids))
	for _, id := range ids {
		if m, ok := r.rows[id]; ok {
			out[id] = &m
		}
	}
	return out, nil
}

func (r *MultimediaRepo) AttachToMessage(ctx context.Context, id, messageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return apperror.NewNotFound("multimedia", id.String())
	}
	if m.MessageID != nil && *m.MessageID != messageID {
		return apperror.NewConflict("multimedia", "message", "another message")
	}
	m.MessageID = &messageID
	if m.Status == multimedia.StatusUploading {
		m.Status = multimedia.StatusProcessing
	}
	m.UpdatedAt = r.now().UTC()
	r.rows[id] = m
	return nil
}

func (r *MultimediaRepo) MarkReady(ctx context.Context, id uuid.UUID, u multimedia.ReadyUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || !multimedia.CanTransition(m.Status, multimedia.StatusReady) {
		return false, nil
	}
	url := u.URL
	m.URL = &url
	m.ThumbnailURL = u.ThumbnailURL
	m.Duration, m.Width, m.Height = u.Duration, u.Width, u.Height
	m.Metadata = u.Metadata
	m.Status = multimedia.StatusReady
	m.LastError = nil
	m.UpdatedAt = r.now().UTC()
	r.rows[id] = m
	return true, nil
}

func (r *MultimediaRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || !multimedia.CanTransition(m.Status, multimedia.StatusFailed) {
		return false, nil
	}
	m.Status = multimedia.StatusFailed
	m.LastError = &reason
	m.UpdatedAt = r.now().UTC()
	r.rows[id] = m
	return true, nil
}

func (r *MultimediaRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*multimedia.Multimedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*multimedia.Multimedia, 0)
	for _, m := range r.rows {
		if (m.Status == multimedia.StatusUploading || m.Status == multimedia.StatusProcessing) && m.UpdatedAt.Before(olderThan) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetClock replaces the time source, for tests that age records.
func (r *MultimediaRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
