// Package read реализует HTTP-обработчик для чтения записи триала по ID.
//
// Handler извлекает ID из URL-параметров, вызывает бизнес-логику чтения
// и возвращает запись вместе с производным статусом: действующей стадией,
// оставшимися днями и признаком возможности продления.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// Service описывает интерфейс бизнес-логики чтения триала.
type Service interface {
	Get(ctx context.Context, id string) (*models.TrialRecord, error)
}

// Handler обрабатывает запросы на чтение записи триала.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис бизнес-логики жизненного цикла триала
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Чтение записи триала
// @Description Возвращает запись триала и производный статус на момент запроса.
// @Tags Trial
// @Produce  json
// @Param id path string true "ID записи триала"
// @Success 200 {object} response.Response "Запись триала и производный статус"
// @Failure 404 {object} response.ErrorResponse "Запись не найдена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /trials/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial.read"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")
	if id == "" {
		log.Error("missing trial id in url")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing trial id"))
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if errors.Is(err, trialservice.ErrNotFound) {
		log.Error("trial not found", slog.String("trial_id", id))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("trial not found"))
		return
	}
	if err != nil {
		log.Error("failed to read trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read trial"))
		return
	}

	log.Info("trial read", slog.String("trial_id", rec.ID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"trial":  rec,
		"status": rec.Status(time.Now().UTC()),
	}))
}
