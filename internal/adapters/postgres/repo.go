// Package postgres persists events, registrations, venue slots and the
// notification outbox. Units of work run under SERIALIZABLE isolation with a
// row lock on the event, so operations touching the same event never race.
package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/registration"
)

const (
	serializationFailureCode = "40001"
	uniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a SERIALIZABLE transaction. Serialization failures
// surface as domain.ErrSerializationFailure so callers can retry.
func (r *Repository) WithTx(ctx context.Context, fn func(tx registration.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(&storeTx{tx: tx}); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// storeTx implements registration.Tx over one pgx transaction.
type storeTx struct {
	tx pgx.Tx
}

const eventColumns = `id, venue_id, title, description, location, date, start_time, end_time,
	status, max_seats, current_booked, waitlist_enabled, max_waitlist, current_waitlisted,
	registration_deadline, auto_approve, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.VenueID, &e.Title, &e.Description, &e.Location, &e.Date,
		&e.StartTime, &e.EndTime, &e.Status, &e.MaxSeats, &e.CurrentBooked, &e.WaitlistEnabled,
		&e.MaxWaitlist, &e.CurrentWaitlisted, &e.RegistrationDeadline, &e.AutoApprove,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *storeTx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return scanEvent(s.tx.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events WHERE id = $1
		FOR UPDATE
	`, id))
}

func (s *storeTx) UpdateEventCounts(ctx context.Context, e *domain.Event) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE events
		SET current_booked = $2, current_waitlisted = $3, updated_at = now()
		WHERE id = $1
	`, e.ID, e.CurrentBooked, e.CurrentWaitlisted)
	return err
}

const registrationColumns = `id, event_id, participant_id, status, waitlist_position,
	ics_ticket, qr_token, created_at, updated_at`

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var reg domain.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Status,
		&reg.WaitlistPosition, &reg.ICSTicket, &reg.QRToken, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *storeTx) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(s.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1
	`, id))
}

func (s *storeTx) FindActiveByParticipant(ctx context.Context, eventID, participantID uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(s.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND participant_id = $2 AND status <> 'cancelled'
	`, eventID, participantID))
}

func (s *storeTx) InsertRegistration(ctx context.Context, reg *domain.Registration) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO registrations (id, event_id, participant_id, status, waitlist_position,
			ics_ticket, qr_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, reg.ID, reg.EventID, reg.ParticipantID, reg.Status, reg.WaitlistPosition,
		reg.ICSTicket, reg.QRToken, reg.CreatedAt, reg.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return domain.ErrDuplicateRegistration
	}
	return err
}

func (s *storeTx) UpdateRegistration(ctx context.Context, reg *domain.Registration) error {
	result, err := s.tx.Exec(ctx, `
		UPDATE registrations
		SET status = $2, waitlist_position = $3, ics_ticket = $4, qr_token = $5, updated_at = $6
		WHERE id = $1
	`, reg.ID, reg.Status, reg.WaitlistPosition, reg.ICSTicket, reg.QRToken, reg.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *storeTx) CountByStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) (int, error) {
	var n int
	err := s.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2
	`, eventID, status).Scan(&n)
	return n, err
}

func (s *storeTx) MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error) {
	var max int
	err := s.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(waitlist_position), 0)
		FROM registrations WHERE event_id = $1 AND status = 'waitlist'
	`, eventID).Scan(&max)
	return max, err
}

func (s *storeTx) MinWaitlisted(ctx context.Context, eventID uuid.UUID) (*domain.Registration, error) {
	reg, err := scanRegistration(s.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status = 'waitlist'
		ORDER BY waitlist_position ASC
		LIMIT 1
	`, eventID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return reg, err
}

// ShiftWaitlistPositions decrements every rank above the vacated one. The
// rows are updated one by one in ascending rank order: uq_waitlist_rank is a
// non-deferrable index checked per row, so each update must move its row into
// a rank the previous update (or the departing registration) already vacated.
func (s *storeTx) ShiftWaitlistPositions(ctx context.Context, eventID uuid.UUID, above int) error {
	rows, err := s.tx.Query(ctx, `
		SELECT id FROM registrations
		WHERE event_id = $1 AND status = 'waitlist' AND waitlist_position > $2
		ORDER BY waitlist_position ASC
	`, eventID, above)
	if err != nil {
		return err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		_, err := s.tx.Exec(ctx, `
			UPDATE registrations
			SET waitlist_position = waitlist_position - 1, updated_at = now()
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
	}
	return nil
}

// Pool-level reads used by handlers outside any unit of work.

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events WHERE id = $1
	`, id))
}

func (r *Repository) GetRegistrationByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1
	`, id))
}

func (r *Repository) CreateEvent(ctx context.Context, e *domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, e.ID, e.VenueID, e.Title, e.Description, e.Location, e.Date, e.StartTime, e.EndTime,
		e.Status, e.MaxSeats, e.CurrentBooked, e.WaitlistEnabled, e.MaxWaitlist,
		e.CurrentWaitlisted, e.RegistrationDeadline, e.AutoApprove, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *Repository) UpdateEventStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE events SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApprovedMissingTickets returns approved registrations whose best-effort
// ticket issuance has not succeeded yet, oldest first.
func (r *Repository) ApprovedMissingTickets(ctx context.Context, limit int) ([]domain.Registration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE status = 'approved' AND (ics_ticket = '' OR qr_token = '')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

func (r *Repository) SetTicketArtifacts(ctx context.Context, id uuid.UUID, ics, qrToken string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET ics_ticket = $2, qr_token = $3, updated_at = now()
		WHERE id = $1 AND status = 'approved'
	`, id, ics, qrToken)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Schema creates the tables and indexes. Exposed for tests and local setup.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	venue_id UUID NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	date TIMESTAMPTZ NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'ongoing', 'completed', 'cancelled')),
	max_seats INT NOT NULL CHECK (max_seats >= 1),
	current_booked INT NOT NULL DEFAULT 0 CHECK (current_booked >= 0 AND current_booked <= max_seats),
	waitlist_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	max_waitlist INT NOT NULL DEFAULT 0,
	current_waitlisted INT NOT NULL DEFAULT 0 CHECK (current_waitlisted >= 0),
	registration_deadline TIMESTAMPTZ,
	auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS registrations (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	participant_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'cancelled', 'waitlist')),
	waitlist_position INT CHECK (waitlist_position IS NULL OR waitlist_position >= 1),
	ics_ticket TEXT NOT NULL DEFAULT '',
	qr_token TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_active_registration
	ON registrations (event_id, participant_id) WHERE status <> 'cancelled';

CREATE UNIQUE INDEX IF NOT EXISTS uq_waitlist_rank
	ON registrations (event_id, waitlist_position) WHERE status = 'waitlist';

CREATE TABLE IF NOT EXISTS venue_slots (
	id UUID PRIMARY KEY,
	venue_id UUID NOT NULL,
	date DATE NOT NULL,
	start_minute INT NOT NULL,
	end_minute INT NOT NULL CHECK (end_minute > start_minute),
	booked BOOLEAN NOT NULL DEFAULT FALSE,
	booked_by_event UUID
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	event_id UUID NOT NULL,
	registration_id UUID NOT NULL,
	participant_id UUID NOT NULL,
	payload_json BYTEA NOT NULL,
	status TEXT NOT NULL DEFAULT 'NEW',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}
