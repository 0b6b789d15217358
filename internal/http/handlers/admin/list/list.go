// Package list реализует HTTP-обработчик списка записей триала для панели модерации.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Service описывает интерфейс чтения списка записей.
type Service interface {
	List(ctx context.Context, filter models.TrialFilter, limit, offset int) ([]*models.TrialRecord, error)
}

// Handler обрабатывает запросы списка записей триала.
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
// @Summary Список записей триала
// @Description Возвращает записи триала с фильтрами по стадии, пометке модерации и сроку истечения.
// @Tags Admin
// @Produce  json
// @Param stage query string false "Фильтр по стадии (anonymous|extended|expired|converted)"
// @Param flagged query boolean false "Фильтр по пометке модерации"
// @Param expiring_within_days query int false "Записи, истекающие в течение N дней"
// @Param limit query int false "Максимум записей (по умолчанию 50)"
// @Param offset query int false "Смещение пагинации"
// @Success 200 {object} response.Response "Список записей"
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /admin/trials [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.list"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	filter, limit, offset, err := parseQuery(r)
	if err != nil {
		log.Error("failed to parse query params", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid query parameters"))
		return
	}

	trials, err := h.service.List(r.Context(), filter, limit, offset)
	if err != nil {
		log.Error("failed to list trials", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list trials"))
		return
	}

	now := time.Now().UTC()
	items := make([]map[string]any, 0, len(trials))
	for _, rec := range trials {
		items = append(items, map[string]any{
			"trial":  rec,
			"status": rec.Status(now),
		})
	}

	log.Info("trials listed", slog.Int("count", len(items)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"trials": items,
		"count":  len(items),
	}))
}

// parseQuery разбирает фильтры и пагинацию из query-параметров.
func parseQuery(r *http.Request) (models.TrialFilter, int, int, error) {
	var filter models.TrialFilter

	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, err := models.ParseStage(raw)
		if err != nil {
			return filter, 0, 0, err
		}
		filter.Stage = &stage
	}

	if raw := r.URL.Query().Get("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, 0, 0, err
		}
		filter.Flagged = &flagged
	}

	if raw := r.URL.Query().Get("expiring_within_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return filter, 0, 0, err
		}
		filter.ExpiringWithinDays = &days
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return filter, 0, 0, err
		}
		if parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return filter, 0, 0, err
		}
		if parsed > 0 {
			offset = parsed
		}
	}

	return filter, limit, offset, nil
}
