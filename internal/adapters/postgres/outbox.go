package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/registration"
)

// NoticeRecord is an outbox row: a notification intent committed with the
// transition it announces, relayed to the broker by the outbox publisher.
type NoticeRecord struct {
	ID             uuid.UUID
	Kind           string
	EventID        uuid.UUID
	RegistrationID uuid.UUID
	ParticipantID  uuid.UUID
	Payload        []byte
	Status         string // NEW, PUBLISHED
	CreatedAt      time.Time
	PublishedAt    *time.Time
}

func (s *storeTx) EnqueueNotice(ctx context.Context, n registration.Notice) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO outbox (id, kind, event_id, registration_id, participant_id, payload_json, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW')
	`, n.ID, n.Kind, n.EventID, n.RegistrationID, n.ParticipantID, n.Payload)
	return err
}

func (r *Repository) UnpublishedNotices(ctx context.Context, limit int) ([]NoticeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, event_id, registration_id, participant_id, payload_json, status, created_at, published_at
		FROM outbox WHERE status = 'NEW'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []NoticeRecord
	for rows.Next() {
		var rec NoticeRecord
		err := rows.Scan(&rec.ID, &rec.Kind, &rec.EventID, &rec.RegistrationID,
			&rec.ParticipantID, &rec.Payload, &rec.Status, &rec.CreatedAt, &rec.PublishedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkNoticePublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}
