package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqs/queue-service/internal/config"
	"mqs/queue-service/internal/httpapi"
	"mqs/queue-service/internal/hub"
	"mqs/queue-service/internal/relay"
	"mqs/queue-service/internal/store/postgres"
	"mqs/queue-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := postgres.Migrate(ctx, pool); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
	}

	ticketStore := postgres.NewStore(pool, postgres.Options{
		VoidThreshold:   cfg.RepeatVoidThreshold,
		OfficeOpenHour:  cfg.OfficeOpenHour,
		OfficeCloseHour: cfg.OfficeCloseHour,
	})
	handler := httpapi.NewHandler(ticketStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:         cfg.RateLimitPerMinute,
		IPBurst:             cfg.RateLimitBurst,
		DepartmentPerMinute: cfg.DeptRateLimitPerMinute,
		DepartmentBurst:     cfg.DeptRateLimitBurst,
	})
	h := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/api/", handler.Routes())
	mux.Handle("/healthz", handler.Routes())
	mux.Handle("/display/", displayHandler(h))

	var publisher relay.Publisher
	if cfg.NATSURL != "" {
		natsPublisher, err := relay.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatalf("nats connect: %v", err)
		}
		defer func() { _ = natsPublisher.Close() }()
		publisher = natsPublisher
	}
	eventRelay := relay.New(ticketStore, h, relay.Options{
		Publisher:     publisher,
		SubjectPrefix: cfg.NATSSubjectPrefix,
		PollInterval:  cfg.EventPollInterval,
		BatchSize:     cfg.EventBatchSize,
	})
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go eventRelay.Run(relayCtx)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopRelay()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// displayHandler serves the waiting-room screens. A display connects, sends
// a subscribe message for its department and optional lane, and receives the
// event stream the relay drains from the outbox.
func displayHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/display", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{
				DepartmentID: parsed.DepartmentID,
				Lane:         parsed.Lane,
			})
		}
	})
}
