package domain

import (
	"time"

	"github.com/google/uuid"
)

type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationApproved   RegistrationStatus = "approved"
	RegistrationRejected   RegistrationStatus = "rejected"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationWaitlisted RegistrationStatus = "waitlist"
)

// Registration is one participant's registration for one event. At most one
// non-cancelled registration exists per (event, participant) pair.
//
// WaitlistPosition is a dense 1-based rank, set iff Status is waitlist. The
// positions of all waitlisted registrations for one event form a contiguous
// run 1..CurrentWaitlisted after every committed transaction.
type Registration struct {
	ID               uuid.UUID
	EventID          uuid.UUID
	ParticipantID    uuid.UUID
	Status           RegistrationStatus
	WaitlistPosition *int

	// Ticket artifacts, present only when approved. Issuance is best effort;
	// empty fields on an approved registration mean a retry is pending.
	ICSTicket string
	QRToken   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransitionTo reports whether the lifecycle state machine allows moving
// from the current status to next. Rejected and cancelled are terminal;
// approved can still be rejected or cancelled, which frees the seat.
func (r *Registration) CanTransitionTo(next RegistrationStatus) bool {
	switch r.Status {
	case RegistrationPending, RegistrationWaitlisted:
		return next == RegistrationApproved || next == RegistrationRejected || next == RegistrationCancelled
	case RegistrationApproved:
		return next == RegistrationRejected || next == RegistrationCancelled
	default:
		return false
	}
}

func NewRegistration(eventID, participantID uuid.UUID, now time.Time) *Registration {
	return &Registration{
		ID:            uuid.New(),
		EventID:       eventID,
		ParticipantID: participantID,
		Status:        RegistrationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
