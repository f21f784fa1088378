// Package registration owns the registration lifecycle state machine: create,
// approve, reject, cancel, waitlist rank bookkeeping and promotion. Every
// operation runs as one transactional unit of work; the owning event's
// counters are resynced from the registration set before each commit.
package registration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/observability"
	"github.com/campuskit/eventreg/internal/ticket"
)

// Auditor records committed lifecycle transitions. Failures are logged and
// never affect the transition itself.
type Auditor interface {
	RecordTransition(ctx context.Context, action string, reg domain.Registration) error
}

// NopAuditor is used where no audit sink is wired.
type NopAuditor struct{}

func (NopAuditor) RecordTransition(context.Context, string, domain.Registration) error { return nil }

type Service struct {
	store   Store
	tickets *ticket.Issuer
	audit   Auditor
	logger  observability.Logger
	now     func() time.Time
}

func NewService(store Store, tickets *ticket.Issuer, audit Auditor, logger observability.Logger) *Service {
	if audit == nil {
		audit = NopAuditor{}
	}
	return &Service{
		store:   store,
		tickets: tickets,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

// Create registers a participant for an event. Depending on the event's
// state the registration lands approved (auto-approve with a free seat),
// waitlisted, or pending; a full event with a full or disabled waitlist is
// denied with a reason the caller can surface verbatim.
func (s *Service) Create(ctx context.Context, eventID, participantID uuid.UUID) (*domain.Registration, error) {
	var reg *domain.Registration

	err := s.inTx(ctx, func(tx Tx) error {
		event, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}

		existing, err := tx.FindActiveByParticipant(ctx, eventID, participantID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			observability.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			return domain.ErrDuplicateRegistration
		}

		adm := domain.EvaluateRegistration(event, s.now())
		if !adm.CanRegister {
			observability.RegistrationsTotal.WithLabelValues("denied").Inc()
			return domain.Denied(adm.Reason)
		}

		reg = domain.NewRegistration(eventID, participantID, s.now())
		outcome := "pending"
		switch {
		case adm.Waitlist:
			max, err := tx.MaxWaitlistPosition(ctx, eventID)
			if err != nil {
				return err
			}
			pos := max + 1
			reg.Status = domain.RegistrationWaitlisted
			reg.WaitlistPosition = &pos
			outcome = "waitlisted"
		case event.AutoApprove:
			reg.Status = domain.RegistrationApproved
			s.attachTicket(event, reg)
			outcome = "approved"
		}

		if err := tx.InsertRegistration(ctx, reg); err != nil {
			return err
		}
		if err := s.resyncCounts(ctx, tx, event); err != nil {
			return err
		}
		observability.RegistrationsTotal.WithLabelValues(outcome).Inc()
		return s.notify(ctx, tx, "registration."+string(reg.Status), reg)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "registration.created", *reg)
	return reg, nil
}

// Approve moves a pending or waitlisted registration to approved. Capacity is
// re-checked against the locked event row, since approval is asynchronous
// relative to the seat snapshot taken at creation time.
func (s *Service) Approve(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error) {
	var reg *domain.Registration

	err := s.inTx(ctx, func(tx Tx) error {
		var err error
		reg, err = tx.GetRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		event, err := tx.GetEventForUpdate(ctx, reg.EventID)
		if err != nil {
			return err
		}

		if reg.Status == domain.RegistrationApproved {
			return domain.ErrAlreadyApproved
		}
		if !reg.CanTransitionTo(domain.RegistrationApproved) {
			return errors.Wrapf(domain.ErrInvalidInput, "cannot approve a %s registration", reg.Status)
		}
		if event.CurrentBooked >= event.MaxSeats {
			return domain.ErrCapacityExceeded
		}

		if reg.Status == domain.RegistrationWaitlisted {
			if err := s.leaveWaitlist(ctx, tx, reg); err != nil {
				return err
			}
		}
		reg.Status = domain.RegistrationApproved
		reg.UpdatedAt = s.now()
		s.attachTicket(event, reg)

		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		if err := s.resyncCounts(ctx, tx, event); err != nil {
			return err
		}
		return s.notify(ctx, tx, "registration.approved", reg)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "registration.approved", *reg)
	return reg, nil
}

// Reject finalizes a registration as rejected. Rejecting an approved
// registration frees its seat and promotes the head of the waitlist.
func (s *Service) Reject(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error) {
	return s.finalize(ctx, registrationID, domain.RegistrationRejected)
}

// Cancel is the participant/organizer-initiated twin of Reject: same counter
// and promotion side effects, terminal status cancelled.
func (s *Service) Cancel(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error) {
	return s.finalize(ctx, registrationID, domain.RegistrationCancelled)
}

func (s *Service) finalize(ctx context.Context, registrationID uuid.UUID, next domain.RegistrationStatus) (*domain.Registration, error) {
	var reg *domain.Registration
	var promoted *domain.Registration

	err := s.inTx(ctx, func(tx Tx) error {
		var err error
		reg, err = tx.GetRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		event, err := tx.GetEventForUpdate(ctx, reg.EventID)
		if err != nil {
			return err
		}

		if !reg.CanTransitionTo(next) {
			return errors.Wrapf(domain.ErrInvalidInput, "cannot move a %s registration to %s", reg.Status, next)
		}

		wasApproved := reg.Status == domain.RegistrationApproved
		if reg.Status == domain.RegistrationWaitlisted {
			if err := s.leaveWaitlist(ctx, tx, reg); err != nil {
				return err
			}
		}
		reg.Status = next
		reg.UpdatedAt = s.now()
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		if err := s.notify(ctx, tx, "registration."+string(next), reg); err != nil {
			return err
		}

		// One seat freed admits at most one waitlisted registration.
		if wasApproved && event.WaitlistEnabled {
			promoted, err = s.promoteNext(ctx, tx, event)
			if err != nil {
				return err
			}
		}
		return s.resyncCounts(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "registration."+string(next), *reg)
	if promoted != nil {
		s.recordAudit(ctx, "registration.promoted", *promoted)
	}
	return reg, nil
}

// leaveWaitlist clears the registration's rank and compacts every rank above
// it, so the remaining positions stay a dense 1..N run within the same
// transaction. The departing row's cleared rank must be persisted before the
// shift: rank uniqueness is checked per row, and the first shifted row moves
// into the rank the departing one held.
func (s *Service) leaveWaitlist(ctx context.Context, tx Tx, reg *domain.Registration) error {
	if reg.WaitlistPosition == nil {
		return errors.Wrap(domain.ErrInvalidInput, "waitlisted registration without a position")
	}
	vacated := *reg.WaitlistPosition
	reg.WaitlistPosition = nil
	if err := tx.UpdateRegistration(ctx, reg); err != nil {
		return err
	}
	return tx.ShiftWaitlistPositions(ctx, reg.EventID, vacated)
}

// resyncCounts recomputes the event's cached counters from the registration
// set and writes them back. Running it before every commit keeps the counters
// immune to missed increments and decrements.
func (s *Service) resyncCounts(ctx context.Context, tx Tx, event *domain.Event) error {
	approved, err := tx.CountByStatus(ctx, event.ID, domain.RegistrationApproved)
	if err != nil {
		return err
	}
	waitlisted, err := tx.CountByStatus(ctx, event.ID, domain.RegistrationWaitlisted)
	if err != nil {
		return err
	}
	domain.RecomputeCounts(event, approved, waitlisted)
	return tx.UpdateEventCounts(ctx, event)
}

// attachTicket issues the ICS payload and check-in token. Issuance is best
// effort: on failure the registration commits with empty ticket fields and
// the retry worker picks it up later.
func (s *Service) attachTicket(event *domain.Event, reg *domain.Registration) {
	t, err := s.tickets.Issue(event, reg)
	if err != nil {
		observability.TicketIssueFailures.Inc()
		s.logger.WithField("registration_id", reg.ID.String()).Warn("ticket issuance failed: ", err)
		return
	}
	reg.ICSTicket = t.CalendarPayload
	reg.QRToken = t.CheckinToken
}

func (s *Service) notify(ctx context.Context, tx Tx, kind string, reg *domain.Registration) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"participant_id":  reg.ParticipantID,
		"status":          reg.Status,
	})
	return tx.EnqueueNotice(ctx, Notice{
		ID:             uuid.New(),
		Kind:           kind,
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		ParticipantID:  reg.ParticipantID,
		Payload:        payload,
	})
}

func (s *Service) recordAudit(ctx context.Context, action string, reg domain.Registration) {
	if err := s.audit.RecordTransition(ctx, action, reg); err != nil {
		s.logger.WithField("registration_id", reg.ID.String()).Warn("audit record failed: ", err)
	}
}

func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.store.WithTx(ctx, fn)
	observability.DBTxDuration.Observe(time.Since(start).Seconds())
	return err
}
