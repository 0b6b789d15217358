// Package create реализует HTTP-обработчик для старта анонимного триала.
//
// Handler декодирует отпечаток устройства из тела запроса, вызывает
// бизнес-логику создания и возвращает запись триала с производным статусом.
// Повторный запрос с тем же отпечатком возвращает существующую запись.
package create

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Request — структура входных данных для старта триала.
type Request struct {
	DeviceID string `json:"device_id" validate:"required,min=8,max=128"`
}

// Service описывает интерфейс бизнес-логики создания триала.
type Service interface {
	Create(ctx context.Context, deviceID string) (*models.TrialRecord, error)
}

// Handler обрабатывает запросы на старт анонимного триала.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики жизненного цикла триала
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
// @Summary Старт анонимного триала
// @Description Начинает триал для отпечатка устройства. Идемпотентен: повторный запрос возвращает существующую запись.
// @Tags Trial
// @Accept  json
// @Produce  json
// @Param request body Request true "Отпечаток устройства"
// @Success 200 {object} response.Response "Запись триала и производный статус"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /trials [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial.create"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.String("device_id", req.DeviceID))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	rec, err := h.service.Create(r.Context(), req.DeviceID)
	if err != nil {
		log.Error("failed to create trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create trial"))
		return
	}

	log.Info("trial created or returned", slog.String("trial_id", rec.ID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"trial":  rec,
		"status": rec.Status(time.Now().UTC()),
	}))
}
