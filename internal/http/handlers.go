package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/campuskit/eventreg/internal/adapters/postgres"
	redisadapter "github.com/campuskit/eventreg/internal/adapters/redis"
	"github.com/campuskit/eventreg/internal/config"
	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/idempotency"
	"github.com/campuskit/eventreg/internal/observability"
	"github.com/campuskit/eventreg/internal/registration"
	"github.com/campuskit/eventreg/internal/ticket"
	"github.com/campuskit/eventreg/internal/venue"
)

type Handlers struct {
	cfg    *config.Config
	repo   *postgres.Repository
	regs   *registration.Service
	venues *venue.Service
	issuer *ticket.Issuer
	cache  *redisadapter.Cache
	idemp  *idempotency.Idempotency
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, repo *postgres.Repository, regs *registration.Service,
	venues *venue.Service, issuer *ticket.Issuer, cache *redisadapter.Cache,
	idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		repo:   repo,
		regs:   regs,
		venues: venues,
		issuer: issuer,
		cache:  cache,
		idemp:  idemp,
		logger: logger,
	}
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Denials carry
// their reason verbatim; infrastructure failures stay generic.
func writeDomainError(w http.ResponseWriter, err error) {
	var denied *domain.DeniedError
	switch {
	case errors.As(err, &denied):
		http.Error(w, denied.Reason, http.StatusConflict)
	case errors.Is(err, domain.ErrDuplicateRegistration),
		errors.Is(err, domain.ErrAlreadyApproved),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrSlotConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VenueID              uuid.UUID  `json:"venue_id"`
		Title                string     `json:"title"`
		Description          string     `json:"description"`
		Location             string     `json:"location"`
		Date                 time.Time  `json:"date"`
		StartTime            string     `json:"start_time"`
		EndTime              string     `json:"end_time"`
		MaxSeats             int        `json:"max_seats"`
		WaitlistEnabled      bool       `json:"waitlist_enabled"`
		MaxWaitlist          int        `json:"max_waitlist"`
		RegistrationDeadline *time.Time `json:"registration_deadline"`
		AutoApprove          bool       `json:"auto_approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.MaxSeats < 1 {
		http.Error(w, "title and max_seats >= 1 are required", http.StatusBadRequest)
		return
	}
	if _, err := domain.ParseClock(req.StartTime); err != nil {
		http.Error(w, "unrecognized start_time", http.StatusBadRequest)
		return
	}

	now := time.Now()
	event := &domain.Event{
		ID:                   uuid.New(),
		VenueID:              req.VenueID,
		Title:                req.Title,
		Description:          req.Description,
		Location:             req.Location,
		Date:                 req.Date,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		Status:               domain.EventPending,
		MaxSeats:             req.MaxSeats,
		WaitlistEnabled:      req.WaitlistEnabled,
		MaxWaitlist:          req.MaxWaitlist,
		RegistrationDeadline: req.RegistrationDeadline,
		AutoApprove:          req.AutoApprove,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := h.venues.Book(r.Context(), req.VenueID, req.Date, req.StartTime, req.EndTime, event.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.repo.CreateEvent(r.Context(), event); err != nil {
		if relErr := h.venues.Release(r.Context(), event.ID); relErr != nil {
			h.logger.Error("failed to release slot after event insert failure", relErr)
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"event_id": event.ID,
		"status":   event.Status,
	})
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	event, err := h.repo.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	seats := event.SeatsAvailable()
	waitlisted := event.CurrentWaitlisted
	if snap, err := h.cache.GetCapacity(r.Context(), id.String()); err == nil && snap != nil {
		seats, waitlisted = snap.SeatsAvailable, snap.CurrentWaitlisted
	} else {
		h.cache.SetCapacity(r.Context(), id.String(),
			redisadapter.CapacitySnapshot{SeatsAvailable: seats, CurrentWaitlisted: waitlisted},
			time.Minute)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":           event.ID,
		"title":              event.Title,
		"status":             event.Status,
		"date":               event.Date,
		"start_time":         event.StartTime,
		"end_time":           event.EndTime,
		"max_seats":          event.MaxSeats,
		"seats_available":    seats,
		"waitlist_enabled":   event.WaitlistEnabled,
		"current_waitlisted": waitlisted,
	})
}

func (h *Handlers) ApproveEvent(w http.ResponseWriter, r *http.Request) {
	h.setEventStatus(w, r, domain.EventApproved)
}

// CancelEvent cancels the event and releases its venue slots. The release is
// best effort after the status change commits.
func (h *Handlers) CancelEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.setEventStatus(w, r, domain.EventCancelled)
	if !ok {
		return
	}
	if err := h.venues.Release(r.Context(), id); err != nil {
		h.logger.WithField("event_id", id.String()).Error("venue release failed: ", err)
	}
}

func (h *Handlers) setEventStatus(w http.ResponseWriter, r *http.Request, status domain.EventStatus) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	event, err := h.repo.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return uuid.Nil, false
	}
	if !event.CanTransitionTo(status) {
		writeDomainError(w, errors.Wrapf(domain.ErrInvalidInput,
			"cannot move a %s event to %s", event.Status, status))
		return uuid.Nil, false
	}
	if err := h.repo.UpdateEventStatus(r.Context(), id, status); err != nil {
		writeDomainError(w, err)
		return uuid.Nil, false
	}
	h.cache.InvalidateCapacity(r.Context(), id.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"event_id": id, "status": status})
	return id, true
}

func (h *Handlers) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if existing, err := h.idemp.Get(r.Context(), key); err == nil && existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	var req struct {
		ParticipantID uuid.UUID `json:"participant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ParticipantID == uuid.Nil {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	reg, err := h.regs.Create(r.Context(), eventID, req.ParticipantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.InvalidateCapacity(r.Context(), eventID.String())

	data := writeJSON(w, http.StatusCreated, registrationView(reg))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) ApproveRegistration(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.regs.Approve)
}

func (h *Handlers) RejectRegistration(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.regs.Reject)
}

func (h *Handlers) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	h.applyTransition(w, r, h.regs.Cancel)
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	reg, err := h.repo.GetRegistrationByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationView(reg))
}

// TicketICS serves the calendar payload of an approved registration as a
// downloadable file.
func (h *Handlers) TicketICS(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.approvedRegistration(w, r)
	if !ok {
		return
	}
	if reg.ICSTicket == "" {
		http.Error(w, "ticket not issued yet", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/calendar")
	w.Header().Set("Content-Disposition", `attachment; filename="ticket.ics"`)
	w.Write([]byte(reg.ICSTicket))
}

// TicketQR renders the check-in token as a QR PNG.
func (h *Handlers) TicketQR(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.approvedRegistration(w, r)
	if !ok {
		return
	}
	if reg.QRToken == "" {
		http.Error(w, "ticket not issued yet", http.StatusConflict)
		return
	}
	png, err := qrcode.Encode(reg.QRToken, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// Checkin verifies a presented check-in token against the issuing secret.
func (h *Handlers) Checkin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	regID, issuedAt, err := h.issuer.Verify(req.Token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	reg, err := h.repo.GetRegistrationByID(r.Context(), regID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registration_id": reg.ID,
		"status":          reg.Status,
		"issued_at":       issuedAt,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) applyTransition(w http.ResponseWriter, r *http.Request,
	do func(ctx context.Context, id uuid.UUID) (*domain.Registration, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	reg, err := do(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.InvalidateCapacity(r.Context(), reg.EventID.String())
	writeJSON(w, http.StatusOK, registrationView(reg))
}

func (h *Handlers) approvedRegistration(w http.ResponseWriter, r *http.Request) (*domain.Registration, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	reg, err := h.repo.GetRegistrationByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if reg.Status != domain.RegistrationApproved {
		http.Error(w, "registration is not approved", http.StatusConflict)
		return nil, false
	}
	return reg, true
}

func registrationView(reg *domain.Registration) map[string]interface{} {
	view := map[string]interface{}{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"participant_id":  reg.ParticipantID,
		"status":          reg.Status,
		"has_ticket":      reg.ICSTicket != "" && reg.QRToken != "",
	}
	if reg.WaitlistPosition != nil {
		view["waitlist_position"] = *reg.WaitlistPosition
	}
	return view
}
