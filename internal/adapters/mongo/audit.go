// Package mongo keeps an append-only audit trail of committed registration
// lifecycle transitions.
package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/campuskit/eventreg/internal/domain"
)

type AuditTrail struct {
	coll *mongo.Collection
}

func NewAuditTrail(db *mongo.Database) *AuditTrail {
	return &AuditTrail{coll: db.Collection("registration_audit")}
}

type transitionDoc struct {
	ID             uuid.UUID `bson:"_id"`
	Action         string    `bson:"action"`
	RegistrationID uuid.UUID `bson:"registration_id"`
	EventID        uuid.UUID `bson:"event_id"`
	ParticipantID  uuid.UUID `bson:"participant_id"`
	Status         string    `bson:"status"`
	Timestamp      time.Time `bson:"timestamp"`
	Detail         bson.M    `bson:"detail"`
}

// RecordTransition implements registration.Auditor. Write failures are
// reported to the caller, which logs them and never fails the transition.
func (a *AuditTrail) RecordTransition(ctx context.Context, action string, reg domain.Registration) error {
	detail := bson.M{"has_ticket": reg.ICSTicket != "" && reg.QRToken != ""}
	if reg.WaitlistPosition != nil {
		detail["waitlist_position"] = *reg.WaitlistPosition
	}
	doc := transitionDoc{
		ID:             uuid.New(),
		Action:         action,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		ParticipantID:  reg.ParticipantID,
		Status:         string(reg.Status),
		Timestamp:      time.Now(),
		Detail:         detail,
	}
	_, err := a.coll.InsertOne(ctx, doc)
	return err
}
