// Package flag реализует HTTP-обработчик пометки записи триала для модерации.
package flag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// Request — структура входных данных для пометки записи.
type Request struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// Service описывает интерфейс пометки записи.
type Service interface {
	Flag(ctx context.Context, trialID, reason string) (*models.TrialRecord, error)
}

// Handler обрабатывает запросы пометки записи триала.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис административной панели
	validate *validator.Validate // Валидатор для проверки входных данных
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Пометка записи триала
// @Description Помечает запись для модерации с указанием причины. Пометка не блокирует переходы жизненного цикла.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param id path string true "ID записи триала"
// @Param request body Request true "Причина пометки"
// @Success 200 {object} response.Response "Обновленная запись"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 404 {object} response.ErrorResponse "Запись не найдена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /admin/trials/{id}/flag [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.flag"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	rec, err := h.service.Flag(r.Context(), id, req.Reason)
	if errors.Is(err, trialservice.ErrNotFound) {
		log.Error("trial not found", slog.String("trial_id", id))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("trial not found"))
		return
	}
	if err != nil {
		log.Error("failed to flag trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not flag trial"))
		return
	}

	log.Info("trial flagged", slog.String("trial_id", rec.ID))
	render.JSON(w, r, response.StatusOKWithData(rec))
}
