// Package webhook реализует HTTP-обработчик вебхука биллинга о конверсии.
//
// Handler проверяет HMAC-подпись тела запроса, извлекает идентификатор
// права и кандидатов идентичности и передает их в сверку конверсии.
// Отсутствие совпавшей записи триала — валидный исход, не ошибка.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Payload — структура входных данных вебхука конверсии.
type Payload struct {
	EntitlementID string `json:"entitlement_id" validate:"required"`
	DeviceID      string `json:"device_id"`
	ExternalID    string `json:"external_id"`
	Email         string `json:"email"`
}

// Service описывает интерфейс сверки конверсии.
type Service interface {
	Convert(ctx context.Context, entitlementID string, candidates models.ConversionCandidates) (*models.TrialRecord, error)
}

// Handler обрабатывает вебхуки биллинга о конверсии.
type Handler struct {
	log           *slog.Logger        // Логгер для записи информации и ошибок
	service       Service             // Сервис сверки конверсии
	validate      *validator.Validate // Валидатор для проверки входных данных
	webhookSecret string              // Секрет для проверки подписи
}

// New создает новый Handler с переданным логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		validate:      validator.New(),
		webhookSecret: secret,
	}
}

// Проверка подписи webhook (X-Api-Signature)
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Вебхук конверсии
// @Description Сверяет успешный платеж с записью триала и переводит её в терминальную стадию converted.
// @Tags Conversion
// @Accept  json
// @Produce  json
// @Param request body Payload true "Идентификатор права и кандидаты идентичности"
// @Success 200 {object} response.Response "Результат сверки"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /conversions/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.conversion.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	rec, err := h.service.Convert(r.Context(), payload.EntitlementID, models.ConversionCandidates{
		DeviceID:   payload.DeviceID,
		ExternalID: payload.ExternalID,
		Email:      payload.Email,
	})
	if err != nil {
		log.Error("failed to reconcile conversion", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reconcile conversion"))
		return
	}

	if rec == nil {
		// Пользователь мог купить подписку, никогда не беря триал.
		log.Info("conversion matched no trial", slog.String("entitlement_id", payload.EntitlementID))
		render.JSON(w, r, response.StatusOKWithData(map[string]any{
			"matched": false,
		}))
		return
	}

	log.Info("conversion reconciled",
		slog.String("trial_id", rec.ID),
		slog.String("entitlement_id", payload.EntitlementID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"matched": true,
		"trial":   rec,
	}))
}
