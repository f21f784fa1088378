package registration_test

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/registration"
)

// memStore is an in-memory registration.Store. A single mutex serializes
// units of work, which is one of the valid realizations of the isolation
// contract; rollback restores a snapshot taken at transaction start.
type memStore struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*domain.Event
	regs    map[uuid.UUID]*domain.Registration
	notices []registration.Notice
}

func newMemStore() *memStore {
	return &memStore{
		events: make(map[uuid.UUID]*domain.Event),
		regs:   make(map[uuid.UUID]*domain.Registration),
	}
}

func (s *memStore) addEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := e
	s.events[e.ID] = &cp
}

func (s *memStore) event(id uuid.UUID) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func (s *memStore) registration(id uuid.UUID) domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.regs[id]
}

func (s *memStore) waitlisted(eventID uuid.UUID) []domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Registration
	for _, r := range s.regs {
		if r.EventID == eventID && r.Status == domain.RegistrationWaitlisted {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx registration.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapEvents := make(map[uuid.UUID]*domain.Event, len(s.events))
	for k, v := range s.events {
		cp := *v
		snapEvents[k] = &cp
	}
	snapRegs := make(map[uuid.UUID]*domain.Registration, len(s.regs))
	for k, v := range s.regs {
		cp := *v
		if v.WaitlistPosition != nil {
			p := *v.WaitlistPosition
			cp.WaitlistPosition = &p
		}
		snapRegs[k] = &cp
	}
	snapNotices := len(s.notices)

	if err := fn(&memTx{s: s}); err != nil {
		s.events = snapEvents
		s.regs = snapRegs
		s.notices = s.notices[:snapNotices]
		return err
	}
	return nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, ok := t.s.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (t *memTx) UpdateEventCounts(ctx context.Context, e *domain.Event) error {
	stored, ok := t.s.events[e.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.CurrentBooked = e.CurrentBooked
	stored.CurrentWaitlisted = e.CurrentWaitlisted
	return nil
}

func (t *memTx) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	r, ok := t.s.regs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyReg(r), nil
}

func (t *memTx) FindActiveByParticipant(ctx context.Context, eventID, participantID uuid.UUID) (*domain.Registration, error) {
	for _, r := range t.s.regs {
		if r.EventID == eventID && r.ParticipantID == participantID && r.Status != domain.RegistrationCancelled {
			return copyReg(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) InsertRegistration(ctx context.Context, r *domain.Registration) error {
	for _, existing := range t.s.regs {
		if existing.EventID == r.EventID && existing.ParticipantID == r.ParticipantID &&
			existing.Status != domain.RegistrationCancelled {
			return domain.ErrDuplicateRegistration
		}
	}
	if err := t.checkRankFree(r); err != nil {
		return err
	}
	t.s.regs[r.ID] = copyReg(r)
	return nil
}

func (t *memTx) UpdateRegistration(ctx context.Context, r *domain.Registration) error {
	if _, ok := t.s.regs[r.ID]; !ok {
		return domain.ErrNotFound
	}
	if err := t.checkRankFree(r); err != nil {
		return err
	}
	t.s.regs[r.ID] = copyReg(r)
	return nil
}

// checkRankFree enforces the store's per-row rank uniqueness: no two
// waitlisted registrations for one event may hold the same position, checked
// at every individual write, not at commit.
func (t *memTx) checkRankFree(r *domain.Registration) error {
	if r.Status != domain.RegistrationWaitlisted || r.WaitlistPosition == nil {
		return nil
	}
	for _, other := range t.s.regs {
		if other.ID != r.ID && other.EventID == r.EventID &&
			other.Status == domain.RegistrationWaitlisted &&
			other.WaitlistPosition != nil && *other.WaitlistPosition == *r.WaitlistPosition {
			return errors.Newf("duplicate waitlist rank %d for event %s", *r.WaitlistPosition, r.EventID)
		}
	}
	return nil
}

func (t *memTx) CountByStatus(ctx context.Context, eventID uuid.UUID, status domain.RegistrationStatus) (int, error) {
	n := 0
	for _, r := range t.s.regs {
		if r.EventID == eventID && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error) {
	max := 0
	for _, r := range t.s.regs {
		if r.EventID == eventID && r.Status == domain.RegistrationWaitlisted &&
			r.WaitlistPosition != nil && *r.WaitlistPosition > max {
			max = *r.WaitlistPosition
		}
	}
	return max, nil
}

func (t *memTx) MinWaitlisted(ctx context.Context, eventID uuid.UUID) (*domain.Registration, error) {
	var min *domain.Registration
	for _, r := range t.s.regs {
		if r.EventID != eventID || r.Status != domain.RegistrationWaitlisted || r.WaitlistPosition == nil {
			continue
		}
		if min == nil || *r.WaitlistPosition < *min.WaitlistPosition {
			min = r
		}
	}
	if min == nil {
		return nil, nil
	}
	return copyReg(min), nil
}

// ShiftWaitlistPositions shifts in ascending rank order and re-checks rank
// uniqueness after each row, matching the per-row index semantics of the
// real store.
func (t *memTx) ShiftWaitlistPositions(ctx context.Context, eventID uuid.UUID, above int) error {
	var shifting []*domain.Registration
	for _, r := range t.s.regs {
		if r.EventID == eventID && r.Status == domain.RegistrationWaitlisted &&
			r.WaitlistPosition != nil && *r.WaitlistPosition > above {
			shifting = append(shifting, r)
		}
	}
	sort.Slice(shifting, func(i, j int) bool {
		return *shifting[i].WaitlistPosition < *shifting[j].WaitlistPosition
	})
	for _, r := range shifting {
		p := *r.WaitlistPosition - 1
		cp := *copyReg(r)
		cp.WaitlistPosition = &p
		if err := t.checkRankFree(&cp); err != nil {
			return err
		}
		r.WaitlistPosition = &p
	}
	return nil
}

func (t *memTx) EnqueueNotice(ctx context.Context, n registration.Notice) error {
	t.s.notices = append(t.s.notices, n)
	return nil
}

func copyReg(r *domain.Registration) *domain.Registration {
	cp := *r
	if r.WaitlistPosition != nil {
		p := *r.WaitlistPosition
		cp.WaitlistPosition = &p
	}
	return &cp
}
