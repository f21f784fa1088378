package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/campuskit/eventreg/internal/adapters/mongo"
	"github.com/campuskit/eventreg/internal/adapters/postgres"
	"github.com/campuskit/eventreg/internal/adapters/rabbit"
	redisadapter "github.com/campuskit/eventreg/internal/adapters/redis"
	"github.com/campuskit/eventreg/internal/config"
	httphandler "github.com/campuskit/eventreg/internal/http"
	"github.com/campuskit/eventreg/internal/idempotency"
	"github.com/campuskit/eventreg/internal/observability"
	"github.com/campuskit/eventreg/internal/outbox"
	"github.com/campuskit/eventreg/internal/rateLimit"
	"github.com/campuskit/eventreg/internal/registration"
	"github.com/campuskit/eventreg/internal/ticket"
	"github.com/campuskit/eventreg/internal/venue"
)

func TestIntegration_RegistrationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "test", "POSTGRES_DB": "eventreg"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		PostgresDSN:    "postgres://postgres:test@" + pgHost + ":" + pgPort.Port() + "/eventreg?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		RabbitURL:      "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		TicketSecret:   "integration-test-secret-0123456789",
		IdempotencyTTL: time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	audit := mongoadapter.NewAuditTrail(mongoClient.Database("eventreg"))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "it-notices", "registration.*")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go outbox.NewPublisher(repo, rabbitPub, logger).Run(relayCtx)

	issuer := ticket.NewIssuer([]byte(cfg.TicketSecret))
	regs := registration.NewService(repo, issuer, audit, logger)
	venues := venue.NewService(repo, logger)

	handlers := httphandler.NewHandlers(cfg, repo, regs, venues, issuer, cache, idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl, idemp))
	defer srv.Close()

	post := func(path string, body interface{}, idempKey string) *http.Response {
		t.Helper()
		data, _ := json.Marshal(body)
		req, _ := http.NewRequest("POST", srv.URL+path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		if idempKey == "" {
			idempKey = uuid.New().String()
		}
		req.Header.Set("Idempotency-Key", idempKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// One seat, a waitlist of one, auto-approve.
	venueID := uuid.New()
	resp := post("/v1/events", map[string]interface{}{
		"venue_id":         venueID,
		"title":            "Orientation Day",
		"location":         "Main Auditorium",
		"date":             time.Now().Add(72 * time.Hour).UTC(),
		"start_time":       "18:00",
		"end_time":         "20:00",
		"max_seats":        1,
		"waitlist_enabled": true,
		"max_waitlist":     1,
		"auto_approve":     true,
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event: status %d", resp.StatusCode)
	}
	var eventResp struct {
		EventID uuid.UUID `json:"event_id"`
	}
	json.NewDecoder(resp.Body).Decode(&eventResp)

	if resp := post("/v1/events/"+eventResp.EventID.String()+"/approve", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve event: status %d", resp.StatusCode)
	}

	type regView struct {
		RegistrationID   uuid.UUID `json:"registration_id"`
		Status           string    `json:"status"`
		WaitlistPosition int       `json:"waitlist_position"`
		HasTicket        bool      `json:"has_ticket"`
	}
	register := func(participant uuid.UUID, idempKey string) (*http.Response, regView) {
		t.Helper()
		resp := post("/v1/events/"+eventResp.EventID.String()+"/registrations",
			map[string]interface{}{"participant_id": participant}, idempKey)
		var view regView
		json.NewDecoder(resp.Body).Decode(&view)
		return resp, view
	}

	// A takes the seat.
	aKey := uuid.New().String()
	resp, regA := register(uuid.New(), aKey)
	if resp.StatusCode != http.StatusCreated || regA.Status != "approved" || !regA.HasTicket {
		t.Fatalf("A: status %d view %+v", resp.StatusCode, regA)
	}

	// Replaying A's request with the same key returns the stored response.
	resp, replay := register(uuid.New(), aKey)
	if resp.StatusCode != http.StatusCreated || replay.RegistrationID != regA.RegistrationID {
		t.Fatalf("replay: status %d view %+v", resp.StatusCode, replay)
	}

	// B lands on the waitlist at position 1.
	resp, regB := register(uuid.New(), "")
	if resp.StatusCode != http.StatusCreated || regB.Status != "waitlist" || regB.WaitlistPosition != 1 {
		t.Fatalf("B: status %d view %+v", resp.StatusCode, regB)
	}

	// C is denied with the reason verbatim.
	resp, _ = register(uuid.New(), "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("C: status %d, want 409", resp.StatusCode)
	}

	// Cancelling A frees the seat and promotes B.
	if resp := post("/v1/registrations/"+regA.RegistrationID.String()+"/cancel", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel A: status %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/v1/registrations/" + regB.RegistrationID.String())
	if err != nil {
		t.Fatal(err)
	}
	var bNow regView
	json.NewDecoder(resp.Body).Decode(&bNow)
	if bNow.Status != "approved" || !bNow.HasTicket {
		t.Fatalf("B after promotion: %+v", bNow)
	}

	// B's ticket artifacts are served.
	resp, err = http.Get(srv.URL + "/v1/registrations/" + regB.RegistrationID.String() + "/ticket.ics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("ticket.ics: %v status %d", err, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/calendar" {
		t.Fatalf("ticket.ics content type %q", ct)
	}
	resp, err = http.Get(srv.URL + "/v1/registrations/" + regB.RegistrationID.String() + "/qr.png")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("qr.png: %v status %d", err, resp.StatusCode)
	}

	// Check-in with B's token.
	bReg, err := repo.GetRegistrationByID(ctx, regB.RegistrationID)
	if err != nil {
		t.Fatal(err)
	}
	resp = post("/v1/checkin", map[string]interface{}{"token": bReg.QRToken}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkin: status %d", resp.StatusCode)
	}

	// A cancelled event is terminal: it cannot be re-approved.
	if resp := post("/v1/events/"+eventResp.EventID.String()+"/cancel", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel event: status %d", resp.StatusCode)
	}
	if resp := post("/v1/events/"+eventResp.EventID.String()+"/approve", nil, ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("re-approve cancelled event: status %d, want 400", resp.StatusCode)
	}

	// The outbox relay delivers the lifecycle notices to the broker.
	select {
	case d := <-deliveries:
		d.Ack(false)
	case <-time.After(30 * time.Second):
		t.Fatal("no notice delivered within 30s")
	}
}
