package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/campuskit/eventreg/internal/adapters/postgres"
	"github.com/campuskit/eventreg/internal/adapters/rabbit"
	"github.com/campuskit/eventreg/internal/config"
	"github.com/campuskit/eventreg/internal/domain"
	"github.com/campuskit/eventreg/internal/observability"
	"github.com/campuskit/eventreg/internal/ticket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	worker := NewTicketRetryWorker(repo, ticket.NewIssuer([]byte(cfg.TicketSecret)), rabbitPub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown ticket retry worker")
}

// TicketRetryWorker re-issues tickets for approved registrations whose
// best-effort issuance failed during the lifecycle transition. A ticket held
// back by a still-malformed event time stays pending and is reported, never
// escalated to a lifecycle failure.
type TicketRetryWorker struct {
	repo      *postgres.Repository
	issuer    *ticket.Issuer
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewTicketRetryWorker(repo *postgres.Repository, issuer *ticket.Issuer, rabbitPub *rabbit.Publisher, logger observability.Logger) *TicketRetryWorker {
	return &TicketRetryWorker{repo: repo, issuer: issuer, rabbitPub: rabbitPub, logger: logger}
}

func (w *TicketRetryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			regs, err := w.repo.ApprovedMissingTickets(ctx, 50)
			if err != nil {
				w.logger.Error("failed to list registrations missing tickets", err)
				continue
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(4)
			for _, reg := range regs {
				reg := reg
				g.Go(func() error {
					if err := w.reissueWithRetry(gctx, reg); err != nil {
						w.logger.WithField("registration_id", reg.ID.String()).
							Warn("ticket re-issue failed: ", err)
					}
					return nil
				})
			}
			g.Wait()
		}
	}
}

func (w *TicketRetryWorker) reissueWithRetry(ctx context.Context, reg domain.Registration) error {
	event, err := w.repo.GetEvent(ctx, reg.EventID)
	if err != nil {
		return err
	}

	var t *ticket.Ticket
	for i := 0; i < 3; i++ {
		t, err = w.issuer.Issue(event, &reg)
		if err == nil {
			break
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return err
	}

	if err := w.repo.SetTicketArtifacts(ctx, reg.ID, t.CalendarPayload, t.CheckinToken); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
	})
	msg := amqp.Publishing{
		MessageId:   reg.ID.String(),
		ContentType: "application/json",
		Body:        payload,
	}
	return w.rabbitPub.Publish(ctx, "ticket.issued", msg)
}
