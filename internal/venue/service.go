// Package venue tracks per-date time-slot bookings for physical spaces. The
// registration core only consumes this collaborator; it never owns venue data.
package venue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/observability"
)

// Store persists venue slots. BookSlot must reject a slot whose range
// overlaps an already booked slot for the same venue and date, atomically
// with the overlap check, returning domain.ErrSlotConflict.
type Store interface {
	SlotsForDate(ctx context.Context, venueID uuid.UUID, date time.Time) ([]domain.VenueSlot, error)
	BookSlot(ctx context.Context, slot domain.VenueSlot) error
	ReleaseByEvent(ctx context.Context, eventID uuid.UUID) (int, error)
}

type Service struct {
	store  Store
	logger observability.Logger
}

func NewService(store Store, logger observability.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CheckAvailability reports whether the venue is free for the given range.
func (s *Service) CheckAvailability(ctx context.Context, venueID uuid.UUID, date time.Time, start, end string) (bool, error) {
	startMin, endMin, err := parseRange(start, end)
	if err != nil {
		return false, err
	}
	slots, err := s.store.SlotsForDate(ctx, venueID, date)
	if err != nil {
		return false, err
	}
	for i := range slots {
		if slots[i].Booked && slots[i].Overlaps(startMin, endMin) {
			return false, nil
		}
	}
	return true, nil
}

// Book reserves the range for an event. The overlap check is enforced inside
// the store so two concurrent bookings cannot both take the same range.
func (s *Service) Book(ctx context.Context, venueID uuid.UUID, date time.Time, start, end string, eventID uuid.UUID) error {
	startMin, endMin, err := parseRange(start, end)
	if err != nil {
		return err
	}
	return s.store.BookSlot(ctx, domain.VenueSlot{
		ID:            uuid.New(),
		VenueID:       venueID,
		Date:          date,
		StartMinute:   startMin,
		EndMinute:     endMin,
		Booked:        true,
		BookedByEvent: eventID,
	})
}

// Release frees every slot booked by the event. Called after an event is
// cancelled; failures are the caller's to log, never to roll back.
func (s *Service) Release(ctx context.Context, eventID uuid.UUID) error {
	n, err := s.store.ReleaseByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	s.logger.WithField("event_id", eventID.String()).Info("released venue slots: ", n)
	return nil
}

func parseRange(start, end string) (int, int, error) {
	startMin, err := domain.ParseClock(start)
	if err != nil {
		return 0, 0, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	endMin, err := domain.ParseClock(end)
	if err != nil {
		return 0, 0, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if endMin <= startMin {
		return 0, 0, errors.Wrap(domain.ErrInvalidInput, "end time must be after start time")
	}
	return startMin, endMin, nil
}
