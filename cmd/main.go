package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"courier-client/internal/api"
	"courier-client/internal/availability"
	"courier-client/internal/deliveries"
	"courier-client/internal/events"
	"courier-client/internal/hub"
	"courier-client/internal/lifecycle"
	"courier-client/internal/session"
	"courier-client/internal/storage"
	"courier-client/internal/tracking"
	"courier-client/migrations"
	"courier-client/pkg/config"
	"courier-client/pkg/db"
	"courier-client/pkg/kafka"
	"courier-client/pkg/logger"
	"courier-client/pkg/rabbitmq"
	rredis "courier-client/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. Config + logger ──
	cfg, err := config.Load(env("CONFIG_FILE", "config.yml"))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, "courier-client", cfg.Log.Level)

	// ── 2. Secret store ──
	raw, closeStore, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("storage unavailable", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	secrets, err := storage.NewEncrypted(raw, []byte(cfg.Storage.SecretKey))
	if err != nil {
		log.Error("secret store setup failed", "error", err)
		os.Exit(1)
	}

	// ── 3. API client + pending queue ──
	store := session.NewStore(secrets, log)
	queue := api.NewQueue(secrets)
	client := api.NewClient(cfg.Backend.URL, &http.Client{Timeout: cfg.Backend.Timeout}, queue, store, log)

	// ── 4. Session, tracking, availability, deliveries ──
	sess := session.NewManager(store, client, log)

	policy := tracking.Policy{MinInterval: cfg.Tracking.MinInterval, MinDistance: cfg.Tracking.MinDistance}
	tracker := tracking.NewTracker(positionSource(cfg, log), client, policy, log)

	avail := availability.NewController(sess, client, tracker, log)
	orders := deliveries.NewManager(sess, client, log)

	app := lifecycle.NewManual()
	avail.Watch(ctx, app)

	// ── 5. Events ──
	bus := events.NewBus(256, log)
	wsHub := hub.New(log)
	bus.Attach("ws", wsHub)

	if len(cfg.Events.KafkaBrokers) > 0 {
		kc := kafka.NewClient(cfg.Events.KafkaBrokers, log)
		if err := kc.EnsureTopics(ctx, 5,
			kafka.TopicRiderAvailability,
			kafka.TopicRiderPosition,
			kafka.TopicDeliveryStatus,
		); err != nil {
			log.Warn("kafka topics not ensured", "error", err)
		}
		defer kc.Close()
		bus.Attach("kafka", events.NewKafkaSink(kc))
	}
	if cfg.Events.RabbitMQURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.Events.RabbitMQURL, log)
		if err != nil {
			log.Warn("rabbitmq unavailable, events not published there", "error", err)
		} else {
			defer pub.Close()
			bus.Attach("rabbitmq", events.NewRabbitSink(pub))
		}
	}

	wireEvents(ctx, bus, sess, avail, tracker, orders, log)
	busDone := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(busDone)
	}()

	// ── 6. Background workers ──
	go api.NewWatcher(client, cfg.Backend.HealthPath, cfg.Backend.ReplayInterval, log).Run(ctx)
	go watchSignals(ctx, app)

	bootCtx, bootCancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
	log.Info("bootstrap finished", "state", sess.Bootstrap(bootCtx).String())
	bootCancel()

	// ── 7. HTTP router ──
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"courier-client"}`))
	})

	r.Mount("/session", session.NewHandler(sess).Routes())
	r.Mount("/availability", availability.NewHandler(avail, app).Routes())
	r.Mount("/deliveries", deliveries.NewHandler(orders).Routes())
	r.Mount("/queue", api.NewQueueHandler(client).Routes())
	r.Mount("/ws", wsHub.Routes())

	// ── 8. Start server ──
	srv := &http.Server{Addr: cfg.Control.Addr, Handler: r}

	go func() {
		log.Info("control API listening", "addr", cfg.Control.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	tracker.Stop()
	cancel() // stop workers and flush the event bus
	<-busDone
}

// openStorage builds the raw key-value backend named by cfg.Backend.
func openStorage(ctx context.Context, cfg config.StorageCfg, log *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		rc, err := rredis.NewClient(ctx, cfg.RedisAddr, "courier:", 5, log)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedis(rc), func() { rc.Close() }, nil
	case "postgres":
		database, err := db.Connect(ctx, cfg.DatabaseURL, 5, log)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(ctx, migrations.FS); err != nil {
			database.Close()
			return nil, nil, err
		}
		return storage.NewPostgres(database), database.Close, nil
	default:
		files, err := storage.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return files, func() {}, nil
	}
}

// positionSource picks the live feed, the simulator, or no provider at all.
func positionSource(cfg *config.Config, log *slog.Logger) tracking.Source {
	if cfg.Tracking.FeedURL != "" {
		return tracking.NewWSSource(cfg.Tracking.FeedURL, log)
	}
	if lat, lng, ok := cfg.SimulationStart(); ok {
		return tracking.NewSimulator(lat, lng, 5*time.Second, log)
	}
	log.Warn("no position provider configured, tracking will be refused")
	return tracking.Unavailable{}
}

// wireEvents turns component notifications into bus events and reloads
// rider state whenever a session becomes authenticated.
func wireEvents(ctx context.Context, bus *events.Bus, sess *session.Manager, avail *availability.Controller,
	tracker *tracking.Tracker, orders *deliveries.Manager, log *slog.Logger) {
	riderID := func() string {
		if u := sess.User(); u != nil {
			return u.ID.String()
		}
		return ""
	}

	sess.Subscribe(func(s session.State, u *api.User) {
		id := ""
		if u != nil {
			id = u.ID.String()
		}
		bus.Publish(events.SessionChanged(s.String(), id))
		if s != session.Authenticated {
			return
		}
		go func() {
			if err := avail.Refresh(ctx); err != nil {
				log.Warn("availability refresh after sign-in failed", "error", err)
			}
			if err := orders.FetchAll(ctx); err != nil {
				log.Warn("delivery fetch after sign-in failed", "error", err)
			}
		}()
	})

	var wasOnline atomic.Bool
	avail.Subscribe(func(st availability.State) {
		if wasOnline.Swap(st.Online) == st.Online {
			return
		}
		bus.Publish(events.RiderAvailability(riderID(), st.Online))
	})

	tracker.OnSample(func(s tracking.Sample, forwarded bool) {
		if forwarded {
			bus.Publish(events.RiderPosition(riderID(), s.Latitude, s.Longitude, s.CapturedAt))
		}
	})

	orders.OnTransition(func(o deliveries.Order) {
		id := o.RiderID.String()
		if id == "" {
			id = riderID()
		}
		bus.Publish(events.DeliveryStatus(id, o.ID.String(), o.Status))
	})
	orders.Subscribe(func(set deliveries.DeliverySet) {
		bus.Publish(events.DeliveriesSynced(riderID(), len(set.Active), len(set.History)))
	})
}

// watchSignals maps SIGUSR1/SIGUSR2 to foreground/background transitions.
func watchSignals(ctx context.Context, app *lifecycle.Manual) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if sig == syscall.SIGUSR1 {
				app.Emit(lifecycle.Foreground)
			} else {
				app.Emit(lifecycle.Background)
			}
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
