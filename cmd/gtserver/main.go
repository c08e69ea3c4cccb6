package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/api"
	"github.com/GeneralTask/task-manager-sub001/config"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/storage"
)

func main() {
	if config.Bool("DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var backend storage.Backend
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr != "" {
		tableName := config.String("WORKSPACE_TABLE", "workspaces")
		if config.Bool("STORAGE_INIT", true) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := storage.Provision(ctx, connStr, tableName, os.Getenv("AUDIT_QUEUE"))
			cancel()
			if err != nil {
				log.Fatalf("storage init: %v", err)
			}
		}
		tables, err := storage.NewTables(connStr, tableName)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		backend = tables
	} else {
		log.Warn("STORAGE_CONNECTION_STRING not set, workspaces are kept in memory")
		backend = storage.NewMemory()
	}
	repo := storage.NewRepository(backend, uuid.NewString, logger)

	opts := api.Options{}
	if queueName := os.Getenv("AUDIT_QUEUE"); queueName != "" {
		if connStr == "" {
			log.Fatal("AUDIT_QUEUE needs STORAGE_CONNECTION_STRING")
		}
		auditQueue, err := storage.NewAuditQueue(connStr, queueName)
		if err != nil {
			log.Fatalf("audit queue: %v", err)
		}
		opts.Audit = api.NewAuditSender(auditQueue, logger, api.AuditConfigFromEnv())
		defer opts.Audit.Close()
	}
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(config.RedisOptions(redisConn))
		defer rc.Close()
		opts.Deduper = api.NewRedisDeduper(rc, config.Duration("DEDUPER_TTL", 24*time.Hour))
	}

	auth, err := newAuth()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{config.String("CORS_ORIGIN", "http://localhost:3000")},
		AllowCredentials: true,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			api.TimezoneHeader, domain.IdempotencyKeyHeader,
		},
	}))
	api.Register(e, repo, auth, logger, opts)

	listenAddr := ":" + config.String("PORT", "8080")
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func newAuth() (*api.Auth, error) {
	cfg, err := api.AuthConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if len(cfg.SharedSecret) > 0 {
		log.Warn("verifying session tokens with a shared secret")
		return api.NewAuth(nil, cfg), nil
	}
	authDomain := os.Getenv("AUTH0_DOMAIN")
	cfg.Audience = os.Getenv("AUTH0_AUDIENCE")
	if authDomain == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("missing Auth0 config")
	}
	cfg.Issuer = "https://" + authDomain + "/"
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain), keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg), nil
}
