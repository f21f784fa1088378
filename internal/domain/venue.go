package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// VenueSlot is one dated time-slot booking for a physical space. Booked
// ranges for the same venue and date never overlap.
type VenueSlot struct {
	ID            uuid.UUID
	VenueID       uuid.UUID
	Date          time.Time
	StartMinute   int // minutes since midnight
	EndMinute     int
	Booked        bool
	BookedByEvent uuid.UUID
}

// Overlaps reports whether the slot's range intersects [startMin, endMin).
func (s *VenueSlot) Overlaps(startMin, endMin int) bool {
	return s.StartMinute < endMin && s.EndMinute > startMin
}

// Clock time layouts accepted for event and slot times of day.
var clockLayouts = []string{"15:04", "3:04 PM", "3:04PM", "03:04 PM"}

// ParseClock parses a textual time of day in 24-hour ("18:00") or 12-hour
// ("6:00 PM") form and returns minutes since midnight.
func ParseClock(s string) (int, error) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, errors.Newf("unrecognized time of day %q", s)
}
