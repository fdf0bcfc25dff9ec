package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type postgresMultimediaRepo struct {
	db     *pgxpool.Pool
	logger logger.Logger
}

func NewPostgresMultimediaRepo(db *pgxpool.Pool, logger logger.Logger) multimedia.Repository {
	return &postgresMultimediaRepo{db: db, logger: logger}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var multimediaColumns = []string{
	"id", "url", "type", "owner_id", "description", "message_id", "mime_type", "size",
	"duration", "width", "height", "thumbnail_url", "status", "last_error", "staging_key",
	"metadata", "created_at", "updated_at",
}

func scanMultimedia(row pgx.Row) (*multimedia.Multimedia, error) {
	m := &multimedia.Multimedia{}
	var metadataBytes []byte

	err := row.Scan(
		&m.ID, &m.URL, &m.Type, &m.OwnerID, &m.Description, &m.MessageID, &m.MimeType, &m.Size,
		&m.Duration, &m.Width, &m.Height, &m.ThumbnailURL, &m.Status, &m.LastError, &m.StagingKey,
		&metadataBytes, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("multimedia", "")
		}
		return nil, apperror.NewInternal("failed to scan multimedia row", err)
	}
	if len(metadataBytes) > 0 {
		_ = json.Unmarshal(metadataBytes, &m.Metadata)
	}
	return m, nil
}

func (r *postgresMultimediaRepo) Save(ctx context.Context, m *multimedia.Multimedia) error {
	metadataBytes, err := json.Marshal(m.Metadata)
	if err != nil {
		return apperror.NewInternal("failed to marshal multimedia metadata", err)
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	query, args, err := psql.Insert("multimedia").Columns(multimediaColumns...).Values(
		m.ID, m.URL, m.Type, m.OwnerID, m.Description, m.MessageID, m.MimeType, m.Size,
		m.Duration, m.Width, m.Height, m.ThumbnailURL, m.Status, m.LastError, m.StagingKey,
		metadataBytes, m.CreatedAt, m.UpdatedAt,
	).ToSql()
	if err != nil {
		return apperror.NewInternal("failed to build insert multimedia query", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return apperror.NewInternal("failed to insert multimedia", err)
	}
	return nil
}

func (r *postgresMultimediaRepo) FindByID(ctx context.Context, id uuid.UUID) (*multimedia.Multimedia, error) {
	query, args, err := psql.Select(multimediaColumns...).From("multimedia").Where("id = ?", id).ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build find multimedia query", err)
	}
	m, err := scanMultimedia(r.db.QueryRow(ctx, query, args...))
	if apperror.IsNotFound(err) {
		return nil, apperror.NewNotFound("multimedia", id.String())
	}
	return m, err
}

func (r *postgresMultimediaRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*multimedia.Multimedia, error) {
	out := make(map[uuid.UUID]*multimedia.Multimedia, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := psql.Select(multimediaColumns...).From("multimedia").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build find multimedia batch query", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewInternal("failed to query multimedia batch", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMultimedia(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal("error iterating multimedia rows", err)
	}
	return out, nil
}

func (r *postgresMultimediaRepo) AttachToMessage(ctx context.Context, id, messageID uuid.UUID) error {
	query, args, err := psql.Update("multimedia").
		Set("message_id", messageID).
		Set("status", sq.Expr("CASE WHEN status = ? THEN ? ELSE status END", multimedia.StatusUploading, multimedia.StatusProcessing)).
		Set("updated_at", sq.Expr("NOW()")).
		Where("id = ?", id).
		Where(sq.Or{sq.Eq{"message_id": nil}, sq.Expr("message_id = ?", messageID)}).
		ToSql()
	if err != nil {
		return apperror.NewInternal("failed to build attach multimedia query", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return apperror.NewInternal("failed to attach multimedia", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return apperror.NewConflict("multimedia", "message", "another message")
}

func (r *postgresMultimediaRepo) MarkReady(ctx context.Context, id uuid.UUID, u multimedia.ReadyUpdate) (bool, error) {
	metadataBytes, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, apperror.NewInternal("failed to marshal multimedia metadata", err)
	}
	query, args, err := psql.Update("multimedia").
		Set("url", u.URL).
		Set("thumbnail_url", u.ThumbnailURL).
		Set("duration", u.Duration).
		Set("width", u.Width).
		Set("height", u.Height).
		Set("metadata", metadataBytes).
		Set("status", multimedia.StatusReady).
		Set("last_error", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where("id = ?", id).
		Where(sq.Eq{"status": multimedia.SourcesFor(multimedia.StatusReady)}).
		ToSql()
	if err != nil {
		return false, apperror.NewInternal("failed to build mark ready query", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, apperror.NewInternal("failed to mark multimedia ready", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresMultimediaRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query, args, err := psql.Update("multimedia").
		Set("status", multimedia.StatusFailed).
		Set("last_error", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where("id = ?", id).
		Where(sq.Eq{"status": multimedia.SourcesFor(multimedia.StatusFailed)}).
		ToSql()
	if err != nil {
		return false, apperror.NewInternal("failed to build mark failed query", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, apperror.NewInternal("failed to mark multimedia failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresMultimediaRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*multimedia.Multimedia, error) {
	query, args, err := psql.Select(multimediaColumns...).
		From("multimedia").
		Where(sq.Eq{"status": []multimedia.Status{multimedia.StatusUploading, multimedia.StatusProcessing}}).
		Where(sq.Lt{"updated_at": olderThan}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build list stale query", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.NewInternal("failed to query stale multimedia", err)
	}
	defer rows.Close()
	out := make([]*multimedia.Multimedia, 0)
	for rows.Next() {
		m, err := scanMultimedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal("error iterating multimedia rows", err)
	}
	return out, nil
}
