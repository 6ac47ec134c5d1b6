package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-streamgw/internal/api"
	"github.com/technosupport/ts-streamgw/internal/config"
	"github.com/technosupport/ts-streamgw/internal/events"
	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/middleware"
	"github.com/technosupport/ts-streamgw/internal/player"
	"github.com/technosupport/ts-streamgw/internal/ratelimit"
	"github.com/technosupport/ts-streamgw/internal/roster"
	"github.com/technosupport/ts-streamgw/internal/sessions"
	"github.com/technosupport/ts-streamgw/internal/tokens"
	"github.com/technosupport/ts-streamgw/internal/transcode"
)

func main() {
	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 2. Camera roster
	var source roster.Source
	var db *sql.DB
	if dsn := cfg.DSN(); dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		source = roster.NewPostgresSource(db)
		log.Printf("Roster: postgres host=%s db=%s", cfg.Database.Host, cfg.Database.Name)
	} else {
		source = &roster.StaticSource{}
		log.Printf("Roster: no database configured, starting empty")
	}

	// 3. Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		log.Printf("WARN: Redis unreachable at %s: %v", cfg.Redis.Addr, err)
	}

	// 4. NATS (optional)
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Printf("WARN: NATS connect failed: %v (events disabled)", err)
		} else {
			defer nc.Close()
			publisher = events.NewPublisher(nc, cfg.NATS.Subject, 3)
			log.Printf("Events: NATS %s subject=%s", cfg.NATS.URL, cfg.NATS.Subject)
		}
	}

	// 5. Gateway client + reconciler
	gwClient := gateway.NewClient(cfg.Gateway.BaseURL)
	reconciler := gateway.NewReconciler(source, gwClient)
	reconciler.OnSynced = func(cam roster.Camera, streamID string) {
		publisher.Publish(&events.StreamEvent{
			Type:     events.EventStreamAdded,
			OrgID:    cam.OrgID,
			CameraID: cam.ID,
			StreamID: streamID,
		})
	}

	// Initial roster push. The gateway may still be starting; the
	// restart watcher repeats the sync once it comes up.
	if report, err := reconciler.SyncAll(rootCtx); err != nil {
		log.Printf("WARN: initial sync failed: %v", err)
	} else {
		log.Printf("Initial sync: %d/%d cameras registered", report.Synced, report.Total)
	}

	resync := func(ctx context.Context) {
		if _, err := reconciler.SyncAll(ctx); err != nil {
			log.Printf("Resync failed: %v", err)
		}
		publisher.Publish(&events.StreamEvent{Type: events.EventGatewayUp})
	}
	watcher := gateway.NewRestartWatcher(cfg.Gateway.ConfigPath, gwClient, resync)
	watcher.PollInterval = time.Duration(cfg.Gateway.PollInterval)
	watcher.OnDown = func() {
		publisher.Publish(&events.StreamEvent{Type: events.EventGatewayDown})
	}
	watcher.Start(rootCtx)

	// 6. Transcode manager
	transcoder := transcode.NewManager(cfg.Transcode.FFmpegPath, time.Duration(cfg.Transcode.ThrottleWindow))
	transcoder.GracePeriod = time.Duration(cfg.Transcode.GracePeriod)

	// 7. Sessions, tokens, limits
	tokenMgr := tokens.NewManager(cfg.Auth.SigningKey)
	sessionSvc := sessions.NewService(rdb)
	telemetrySvc := sessions.NewTelemetryService(rdb, sessionSvc)
	limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATELIMIT_SALT"))
	rlMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit)

	// 8. Routes
	gatewayHandler := api.NewGatewayHandler(gwClient, source)
	gatewayHandler.Events = publisher

	cameraTest := api.NewCameraTestHandler(gwClient)
	cameraTest.ProbeStages = []player.Stage{
		&player.WebRTCStage{Signaler: gwClient, ICEServers: cfg.ICEServers},
		&player.HLSStage{BaseURL: cfg.Gateway.BaseURL},
		&player.MP4Stage{BaseURL: cfg.Gateway.BaseURL},
	}

	router := api.NewRouter(api.Handlers{
		Gateway:    gatewayHandler,
		Transcode:  api.NewTranscodeHandler(transcoder),
		CameraTest: cameraTest,
		Sync:       api.NewSyncHandler(reconciler, publisher),
		Sessions:   api.NewSessionHandler(sessionSvc, telemetrySvc, tokenMgr),
		StreamWS:   api.NewStreamWsHandler(tokenMgr, gwClient),
		Protocols:  api.NewProtocolHandler(),
		Health:     api.NewHealthHandler(gwClient, rdb, db),

		Auth:      middleware.NewPlaybackAuth(tokenMgr),
		RateLimit: rlMiddleware,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 9. Wait for stop signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("Shutdown requested")

	rootCancel()
	transcoder.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Printf("Server stopped gracefully")
}
