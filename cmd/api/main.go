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

	_ "github.com/jackc/pgx/v5/stdlib"

	"finnexus.org/internal/audit"
	"finnexus.org/internal/auth"
	"finnexus.org/internal/config"
	"finnexus.org/internal/httpapi"
	"finnexus.org/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("NEXUS_BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("NEXUS_PG_DSN is required")
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	sink, err := audit.NewPGSink(db)
	if err != nil {
		log.Fatalf("audit sink: %v", err)
	}
	recorder := audit.NewRecorder(sink, 2*time.Second)

	store := auth.NewPGStore(db)

	sessions, err := auth.NewSessionManager(store, recorder, cfg.TokenSecret, cfg.TwoFactorKey, cfg.Issuer,
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL, cfg.RememberMeTTL),
		auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		auth.WithBcryptCost(cfg.BcryptCost),
	)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	engine, err := auth.NewEngine(store, recorder)
	if err != nil {
		log.Fatalf("permission engine: %v", err)
	}

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	err = engine.Seed(seedCtx)
	cancelSeed()
	if err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	api := httpapi.New(sessions, engine, recorder, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting finnexus-access %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
