package registration

import (
	"context"

	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/observability"
)

// PromoteNext promotes the head of the event's waitlist to approved, inside
// its own unit of work. Returns nil when the waitlist is empty. Callers that
// free several seats at once must call it once per seat.
func (s *Service) PromoteNext(ctx context.Context, eventID uuid.UUID) (*domain.Registration, error) {
	var promoted *domain.Registration

	err := s.inTx(ctx, func(tx Tx) error {
		event, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if event.CurrentBooked >= event.MaxSeats {
			return domain.ErrCapacityExceeded
		}
		promoted, err = s.promoteNext(ctx, tx, event)
		if err != nil {
			return err
		}
		return s.resyncCounts(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	if promoted != nil {
		s.recordAudit(ctx, "registration.promoted", *promoted)
	}
	return promoted, nil
}

// promoteNext runs inside an existing transaction holding the event lock.
// It selects the waitlisted registration with the smallest position, approves
// it, compacts the remaining ranks and issues its ticket. Ticket issuance is
// best effort; the promotion itself is never rolled back for a ticket error.
func (s *Service) promoteNext(ctx context.Context, tx Tx, event *domain.Event) (*domain.Registration, error) {
	next, err := tx.MinWaitlisted(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}

	if err := s.leaveWaitlist(ctx, tx, next); err != nil {
		return nil, err
	}
	next.Status = domain.RegistrationApproved
	next.UpdatedAt = s.now()
	s.attachTicket(event, next)

	if err := tx.UpdateRegistration(ctx, next); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, "registration.promoted", next); err != nil {
		return nil, err
	}
	observability.PromotionsTotal.Inc()
	return next, nil
}
