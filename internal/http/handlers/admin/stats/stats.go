// Package stats реализует HTTP-обработчик агрегированной статистики триалов.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Service описывает интерфейс чтения статистики.
type Service interface {
	Stats(ctx context.Context) (*models.TrialStats, error)
}

// Handler обрабатывает запросы статистики воронки триала.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис административной панели
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Статистика воронки триала
// @Description Возвращает счетчики по стадиям, долю конверсий и долю продлений.
// @Tags Admin
// @Produce  json
// @Success 200 {object} response.Response "Агрегированная статистика"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /admin/trials/stats [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.stats"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error("failed to count trial stats", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not count stats"))
		return
	}

	log.Info("stats counted", slog.Int("total", stats.Total))
	render.JSON(w, r, response.StatusOKWithData(stats))
}
