// Package domain defines the core entities of the campus event registration
// service: events with seat capacity and an ordered waitlist, registrations
// moving through a lifecycle state machine, and venue time slots.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventApproved  EventStatus = "approved"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Event carries the capacity bookkeeping for one event. CurrentBooked and
// CurrentWaitlisted are cached aggregates over the registration set; they are
// resynced through RecomputeCounts inside every mutating transaction so they
// can never drift from the rows they summarise.
type Event struct {
	ID          uuid.UUID
	VenueID     uuid.UUID
	Title       string
	Description string
	Location    string

	// Date is the calendar day; StartTime/EndTime are textual times of day
	// ("18:00" or "6:00 PM"), parsed lazily when a ticket is issued.
	Date      time.Time
	StartTime string
	EndTime   string

	Status               EventStatus
	MaxSeats             int
	CurrentBooked        int
	WaitlistEnabled      bool
	MaxWaitlist          int // 0 means unlimited
	CurrentWaitlisted    int
	RegistrationDeadline *time.Time
	AutoApprove          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransitionTo reports whether the event status change is allowed.
// Completed and cancelled are terminal; approval only applies to a pending
// event.
func (e *Event) CanTransitionTo(next EventStatus) bool {
	switch e.Status {
	case EventPending:
		return next == EventApproved || next == EventCancelled
	case EventApproved:
		return next == EventOngoing || next == EventCompleted || next == EventCancelled
	case EventOngoing:
		return next == EventCompleted || next == EventCancelled
	default:
		return false
	}
}

// SeatsAvailable is always derived, never stored independently.
func (e *Event) SeatsAvailable() int {
	if n := e.MaxSeats - e.CurrentBooked; n > 0 {
		return n
	}
	return 0
}

// Admission is the outcome of evaluating a registration attempt.
type Admission struct {
	CanRegister bool
	Waitlist    bool
	Reason      string
}

// Denial reasons surfaced verbatim to callers.
const (
	ReasonNotOpen      = "not open for registration"
	ReasonDeadline     = "deadline passed"
	ReasonWaitlistFull = "no seats available and waitlist is full or disabled"
)

// EvaluateRegistration decides whether a new registration attempt is
// admissible and in what state it should land. Checks run in order: event
// status, registration deadline, free seats, then waitlist headroom.
func EvaluateRegistration(e *Event, now time.Time) Admission {
	if e.Status != EventApproved && e.Status != EventOngoing {
		return Admission{Reason: ReasonNotOpen}
	}
	if e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline) {
		return Admission{Reason: ReasonDeadline}
	}
	if e.SeatsAvailable() > 0 {
		return Admission{CanRegister: true}
	}
	if e.WaitlistEnabled && (e.MaxWaitlist == 0 || e.CurrentWaitlisted < e.MaxWaitlist) {
		return Admission{CanRegister: true, Waitlist: true}
	}
	return Admission{Reason: ReasonWaitlistFull}
}

// RecomputeCounts resyncs the cached counters from the authoritative
// registration counts. Idempotent: calling it twice with the same inputs
// yields the same state.
func RecomputeCounts(e *Event, approved, waitlisted int) {
	e.CurrentBooked = approved
	e.CurrentWaitlisted = waitlisted
}
