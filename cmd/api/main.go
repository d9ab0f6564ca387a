package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fongpn/fmfv6/internal/gate"
	"github.com/fongpn/fmfv6/internal/httpapi"
	"github.com/fongpn/fmfv6/internal/identity"
	"github.com/fongpn/fmfv6/internal/obs"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("FMF_PG_DSN")
	if dsn == "" {
		log.Fatal("FMF_PG_DSN is required")
	}
	secret := os.Getenv("FMF_AUTH_SECRET")
	if secret == "" {
		log.Fatal("FMF_AUTH_SECRET is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	idSvc, err := identity.NewService(identity.NewPGStore(db), secret)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	var gateStore gate.Store = gate.NewPGStore(db)
	var cache *gate.AddressCache
	if redisAddr := os.Getenv("FMF_REDIS_ADDR"); redisAddr != "" {
		cache = gate.NewAddressCache(
			redisAddr,
			os.Getenv("FMF_REDIS_PASSWORD"),
			envInt("FMF_REDIS_DB", 0),
			10*time.Minute,
		)
		gateStore = gate.WithAddressCache(gateStore, cache)
	}

	gateSvc, err := gate.NewService(gateStore, idSvc)
	if err != nil {
		log.Fatalf("gate service: %v", err)
	}

	api := httpapi.New(gateSvc, idSvc, httpapi.ReadyProbe{DB: db, Cache: cache}, version)

	addr := os.Getenv("FMF_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting fmf-gate %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("stopped")
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}
