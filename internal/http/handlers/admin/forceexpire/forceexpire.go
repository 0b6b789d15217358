// Package forceexpire реализует HTTP-обработчик принудительного завершения триала.
package forceexpire

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

// Service описывает интерфейс принудительного завершения триала.
type Service interface {
	ForceExpire(ctx context.Context, trialID string) (*models.TrialRecord, error)
}

// Handler обрабатывает запросы принудительного завершения триала.
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
// @Summary Принудительное завершение триала
// @Description Безусловно переводит запись в стадию expired независимо от оставшегося срока. Повторный вызов идемпотентен.
// @Tags Admin
// @Produce  json
// @Param id path string true "ID записи триала"
// @Success 200 {object} response.Response "Обновленная запись"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Запись не найдена"
// @Failure 409 {object} response.ErrorResponse "Запись уже конвертирована"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /admin/trials/{id}/force-expire [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.forceexpire"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")

	rec, err := h.service.ForceExpire(r.Context(), id)
	switch {
	case errors.Is(err, trialservice.ErrNotFound):
		log.Error("trial not found", slog.String("trial_id", id))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("trial not found"))
		return
	case errors.Is(err, trialservice.ErrAlreadyConverted):
		log.Error("trial already converted", slog.String("trial_id", id))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("trial already converted"))
		return
	case err != nil:
		log.Error("failed to force expire trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not expire trial"))
		return
	}

	log.Info("trial force expired", slog.String("trial_id", rec.ID))
	render.JSON(w, r, response.StatusOKWithData(rec))
}
