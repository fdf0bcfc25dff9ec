package persistence

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type postgresMessageRepo struct {
	db     *pgxpool.Pool
	logger logger.Logger
}

func NewPostgresMessageRepo(db *pgxpool.Pool, logger logger.Logger) message.Repository {
	return &postgresMessageRepo{db: db, logger: logger}
}

var messageColumns = []string{
	"id", "content", "type", "sender_id", "receiver_id", "multimedia_id",
	"multimedia_status", "status", "created_at", "updated_at",
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	m := &message.Message{}
	err := row.Scan(
		&m.ID, &m.Content, &m.Type, &m.SenderID, &m.ReceiverID, &m.MultimediaID,
		&m.MultimediaStatus, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("message", "")
		}
		return nil, apperror.NewInternal("failed to scan message row", err)
	}
	return m, nil
}

func scanMessages(rows pgx.Rows) ([]*message.Message, error) {
	defer rows.Close()
	out := make([]*message.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal("error iterating message rows", err)
	}
	return out, nil
}

func (r *postgresMessageRepo) Save(ctx context.Context, m *message.Message) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = message.StatusSent
	}

	query, args, err := psql.Insert("messages").Columns(messageColumns...).Values(
		m.ID, m.Content, m.Type, m.SenderID, m.ReceiverID, m.MultimediaID,
		m.MultimediaStatus, m.Status, m.CreatedAt, m.UpdatedAt,
	).ToSql()
	if err != nil {
		return apperror.NewInternal("failed to build insert message query", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperror.NewInternal("failed to insert message", err)
	}
	return nil
}

func (r *postgresMessageRepo) FindByID(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	query, args, err := psql.Select(messageColumns...).From("messages").Where("id = ?", id).ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build find message query", err)
	}
	m, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if apperror.IsNotFound(err) {
		return nil, apperror.NewNotFound("message", id.String())
	}
	return m, err
}

func (r *postgresMessageRepo) UpdateMultimediaStatus(ctx context.Context, id uuid.UUID, status multimedia.Status) (*message.Message, error) {
	query, args, err := psql.Update("messages").
		Set("multimedia_status", status).
		Set("updated_at", time.Now().UTC()).
		Where("id = ?", id).
		Suffix("RETURNING id, content, type, sender_id, receiver_id, multimedia_id, multimedia_status, status, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build update message query", err)
	}
	m, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if apperror.IsNotFound(err) {
		return nil, apperror.NewNotFound("message", id.String())
	}
	return m, err
}

func (r *postgresMessageRepo) ListBySender(ctx context.Context, userID uuid.UUID, limit int) ([]*message.Message, error) {
	return r.listBy(ctx, "sender_id", userID, limit)
}

func (r *postgresMessageRepo) ListByReceiver(ctx context.Context, userID uuid.UUID, limit int) ([]*message.Message, error) {
	return r.listBy(ctx, "receiver_id", userID, limit)
}

func (r *postgresMessageRepo) listBy(ctx context.Context, column string, userID uuid.UUID, limit int) ([]*message.Message, error) {
	query, args, err := psql.Select(messageColumns...).
		From("messages").
		Where(column+" = ?", userID).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build list messages query", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewInternal("failed to query messages", err)
	}
	return scanMessages(rows)
}

func (r *postgresMessageRepo) ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]*message.Message, error) {
	query, args, err := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"multimedia_status": []multimedia.Status{multimedia.StatusUploading, multimedia.StatusProcessing}}).
		Where(sq.Lt{"updated_at": olderThan}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build list unsettled query", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewInternal("failed to query unsettled messages", err)
	}
	return scanMessages(rows)
}
