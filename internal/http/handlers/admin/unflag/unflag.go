// Package unflag реализует HTTP-обработчик снятия пометки модерации.
package unflag

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// Service описывает интерфейс снятия пометки.
type Service interface {
	Unflag(ctx context.Context, trialID string) (*models.TrialRecord, error)
}

// Handler обрабатывает запросы снятия пометки модерации.
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
// @Summary Снятие пометки модерации
// @Description Снимает пометку модерации и очищает причину.
// @Tags Admin
// @Produce  json
// @Param id path string true "ID записи триала"
// @Success 200 {object} response.Response "Обновленная запись"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Запись не найдена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /admin/trials/{id}/unflag [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.unflag"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")

	rec, err := h.service.Unflag(r.Context(), id)
	if errors.Is(err, trialservice.ErrNotFound) {
		log.Error("trial not found", slog.String("trial_id", id))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("trial not found"))
		return
	}
	if err != nil {
		log.Error("failed to unflag trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not unflag trial"))
		return
	}

	log.Info("trial unflagged", slog.String("trial_id", rec.ID))
	render.JSON(w, r, response.StatusOKWithData(rec))
}
