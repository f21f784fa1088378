// Package outbox relays committed notification records to the message
// broker. Notices are written in the same transaction as the lifecycle
// transition they announce, so the relay never observes an uncommitted one.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campuskit/eventreg/internal/adapters/postgres"
	"github.com/campuskit/eventreg/internal/adapters/rabbit"
	"github.com/campuskit/eventreg/internal/observability"
)

const (
	pollInterval = 5 * time.Second
	batchSize    = 50
)

type Publisher struct {
	repo      *postgres.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *postgres.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.repo.UnpublishedNotices(ctx, batchSize)
	if err != nil {
		p.logger.Error("failed to fetch unpublished notices", err)
		return
	}
	if len(records) > 0 {
		observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())
	} else {
		observability.OutboxLag.Set(0)
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.ID.String(),
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.Kind, msg); err != nil {
			p.logger.WithField("notice_id", rec.ID.String()).Error("publish failed: ", err)
			continue
		}
		if err := p.repo.MarkNoticePublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithField("notice_id", rec.ID.String()).Error("mark published failed: ", err)
		}
	}
}
