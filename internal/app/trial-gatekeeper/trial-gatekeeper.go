// Package trialgatekeeper собирает HTTP-приложение контроля триалов:
// хранилище, кеш, брокер событий, сервисы и маршруты.
package trialgatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/cache"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/config"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/identityprovider"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/jwt"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/migrations"
	adminservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/admin"
	conversionservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/conversion"
	linkageservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/linkage"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/storage/repository"
)

// App представляет HTTP-приложение контроля триалов.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New создает новый экземпляр приложения.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitConnectionString, 10, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetTrialEventQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	publisher := rabbitmq.NewPublisher(ch)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	providerClient := identityprovider.NewClient(cfg.IdentityProvider)

	trialService := trialservice.New(db, cacheRedis, publisher, logger)
	linkageService := linkageservice.New(trialService, providerClient, logger)
	conversionService := conversionservice.New(db, cacheRedis, publisher, logger)
	adminService := adminservice.New(db, trialService, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, jwtMaker,
		trialService, linkageService, conversionService, adminService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и дожидается отмены контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.ch.Close()
		_ = a.conn.Close()
		_ = a.db.DB.Close()
		return err
	}
}
