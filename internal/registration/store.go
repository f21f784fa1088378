package registration

import (
	"context"

	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
)

// Store opens transactional units of work over the event and registration
// collections. Implementations must guarantee that no other unit of work's
// partial effects are visible and that two units touching the same event are
// serialized (the postgres adapter uses SERIALIZABLE isolation plus a
// SELECT ... FOR UPDATE on the event row).
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside one unit of work. All
// of them see and affect only the transaction's own state until commit.
type Tx interface {
	GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	UpdateEventCounts(ctx context.Context, e *domain.Event) error

	GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	FindActiveByParticipant(ctx context.Context, eventID, participantID uuid.UUID) (*domain.Registration, error)
	InsertRegistration(ctx context.Context, r *domain.Registration) error
	UpdateRegistration(ctx context.Context, r *domain.Registration) error

	CountByStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) (int, error)
	MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error)
	MinWaitlisted(ctx context.Context, eventID uuid.UUID) (*domain.Registration, error)
	ShiftWaitlistPositions(ctx context.Context, eventID uuid.UUID, above int) error

	EnqueueNotice(ctx context.Context, n Notice) error
}

// Notice is a notification intent recorded in the same transaction as the
// transition it announces. A relay publishes committed notices to the broker,
// so notification failures never roll back a transition.
type Notice struct {
	ID             uuid.UUID
	Kind           string // registration.approved, registration.waitlisted, ...
	EventID        uuid.UUID
	RegistrationID uuid.UUID
	ParticipantID  uuid.UUID
	Payload        []byte
}
