package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
)

// SlotsForDate returns every slot for the venue on the given calendar day.
func (r *Repository) SlotsForDate(ctx context.Context, venueID uuid.UUID, date time.Time) ([]domain.VenueSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, venue_id, date, start_minute, end_minute, booked, COALESCE(booked_by_event, '00000000-0000-0000-0000-000000000000')
		FROM venue_slots WHERE venue_id = $1 AND date = $2
	`, venueID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []domain.VenueSlot
	for rows.Next() {
		var s domain.VenueSlot
		if err := rows.Scan(&s.ID, &s.VenueID, &s.Date, &s.StartMinute, &s.EndMinute, &s.Booked, &s.BookedByEvent); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// BookSlot inserts a booked slot, rejecting overlapping booked ranges for the
// same venue and day in a single statement so concurrent bookings cannot both
// take the range.
func (r *Repository) BookSlot(ctx context.Context, slot domain.VenueSlot) error {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO venue_slots (id, venue_id, date, start_minute, end_minute, booked, booked_by_event)
		SELECT $1, $2, $3, $4, $5, TRUE, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM venue_slots
			WHERE venue_id = $2 AND date = $3 AND booked
			  AND start_minute < $5 AND end_minute > $4
		)
	`, slot.ID, slot.VenueID, slot.Date, slot.StartMinute, slot.EndMinute, slot.BookedByEvent)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSlotConflict
	}
	return nil
}

// ReleaseByEvent frees every slot booked by the event and reports how many.
func (r *Repository) ReleaseByEvent(ctx context.Context, eventID uuid.UUID) (int, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE venue_slots SET booked = FALSE, booked_by_event = NULL
		WHERE booked_by_event = $1 AND booked
	`, eventID)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}
