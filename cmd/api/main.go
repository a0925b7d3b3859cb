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
	"github.com/redis/go-redis/v9"

	"poise.dev/internal/auth"
	"poise.dev/internal/httpapi"
	"poise.dev/internal/jwks"
	"poise.dev/internal/obs"
	"poise.dev/internal/sso"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("POISE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("POISE_AUTH_SECRET is required")
	}

	dsn := os.Getenv("POISE_PG_DSN")
	if dsn == "" {
		log.Fatal("POISE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)

	authSvc, err := auth.NewService(store, auth.WithSecret(secret))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	handshake, redisClient, err := buildSSO(authSvc, store)
	if err != nil {
		log.Fatalf("sso: %v", err)
	}

	// HTTP API
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, authSvc, store, handshake)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting poise-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Println("Stopped")
}

// buildSSO wires the federated login handshake when the identity provider is
// configured; without POISE_SSO_CLIENT_ID the server runs with local login
// only. With POISE_REDIS_ADDR set, nonce consumption is shared across
// instances; otherwise it is tracked in memory.
func buildSSO(authSvc *auth.Service, store auth.Store) (*sso.Handshake, *redis.Client, error) {
	clientID := os.Getenv("POISE_SSO_CLIENT_ID")
	if clientID == "" {
		return nil, nil, nil
	}
	tenantID := os.Getenv("POISE_SSO_TENANT_ID")
	redirectURL := os.Getenv("POISE_SSO_REDIRECT_URL")

	var (
		nonces      sso.NonceStore
		redisClient *redis.Client
	)
	if addr := os.Getenv("POISE_REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("POISE_REDIS_PASSWORD"),
		})
		nonces = sso.NewRedisNonceStore(redisClient)
	} else {
		nonces = sso.NewMemoryNonceStore()
	}

	validator := jwks.NewCache(
		sso.KeysEndpoint(tenantID, clientID),
		sso.Issuer(tenantID),
		clientID,
	)

	handshake, err := sso.NewHandshake(sso.Config{
		ClientID:    clientID,
		TenantID:    tenantID,
		RedirectURL: redirectURL,
	}, authSvc, store, validator, nonces)
	if err != nil {
		return nil, nil, err
	}
	return handshake, redisClient, nil
}

func listenAddr() string {
	if addr := os.Getenv("POISE_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
