// Package trialgatekeeper предоставляет маршруты для основного приложения.
package trialgatekeeper

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/config"
	adminflag "github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/flag"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/forceexpire"
	adminlist "github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/list"
	adminlogin "github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/login"
	adminstats "github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/stats"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/admin/unflag"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/callback"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/conversion/webhook"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/health"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/trial/create"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/handlers/trial/read"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/middlewarectx"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/jwt"
	adminservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/admin"
	conversionservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/conversion"
	linkageservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/linkage"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, jwtMaker jwt.Maker,
	trialService *trialservice.Service, linkageService *linkageservice.Service,
	conversionService *conversionservice.Service, adminService *adminservice.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки с ограничением частоты запросов
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/trials", create.New(logger, trialService).ServeHTTP)
			r.Get("/trials/{id}", read.New(logger, trialService).ServeHTTP)
			r.Post("/admin/login", adminlogin.New(logger, cfg.Admin, jwtMaker).ServeHTTP)
		})

		// Webhook endpoint (без аутентификации, подпись HMAC);
		// повторные доставки биллинга не ограничиваются по частоте
		r.Post("/conversions/webhook", webhook.New(logger, conversionService, cfg.Webhook.Secret).ServeHTTP)

		// Группа административной панели с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Get("/admin/trials", adminlist.New(logger, adminService).ServeHTTP)
			r.Get("/admin/trials/stats", adminstats.New(logger, adminService).ServeHTTP)
			r.Post("/admin/trials/{id}/flag", adminflag.New(logger, adminService).ServeHTTP)
			r.Post("/admin/trials/{id}/unflag", unflag.New(logger, adminService).ServeHTTP)
			r.Post("/admin/trials/{id}/force-expire", forceexpire.New(logger, adminService).ServeHTTP)
		})
	})

	// Колбэк OAuth-провайдера открывается браузером, живет вне /api/v1
	r.Get("/auth/callback", callback.New(logger, linkageService).ServeHTTP)

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
