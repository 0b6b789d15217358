// Package callback реализует HTTP-обработчик колбэка OAuth-провайдера.
//
// Колбэк открывается во внешней вкладке браузера, поэтому ответ при любом
// исходе — терминальная HTML-страница: подтверждение с датой истечения
// либо страница ошибки с машиночитаемым кодом причины.
package callback

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/services/linkage"
	trialservice "github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// Машиночитаемые коды причин для страницы результата.
const (
	ReasonInvalidState         = "invalid_state"
	ReasonProviderUnavailable  = "provider_unavailable"
	ReasonAlreadyCustomer      = "already_customer"
	ReasonCooldownActive       = "cooldown_active"
	ReasonIdentityReused       = "identity_reused"
	ReasonAlreadyExtended      = "already_extended"
	ReasonTrialNotFound        = "trial_not_found"
	ReasonReactivationRequired = "reactivation_required"
	ReasonInternal             = "internal_error"
)

// Service описывает интерфейс обработки колбэка.
type Service interface {
	HandleCallback(ctx context.Context, code, state string) (*models.TrialRecord, error)
}

// Handler обрабатывает колбэк OAuth-провайдера.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис привязки внешней идентичности
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

var successTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><title>Trial activated</title></head>
<body data-result="ok">
<h1>You're all set</h1>
<p>Your trial is active until <strong>{{.ExpiresAt}}</strong> ({{.DaysRemaining}} day(s) remaining).</p>
<p>You can close this tab and return to the application.</p>
</body>
</html>`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Something went wrong</title></head>
<body data-result="error" data-reason="{{.Reason}}">
<h1>Something went wrong</h1>
<p>{{.Message}}</p>
<p>You can close this tab and return to the application.</p>
</body>
</html>`))

type successPage struct {
	ExpiresAt     string
	DaysRemaining int
}

type errorPage struct {
	Reason  string
	Message string
}

// ServeHTTP godoc
// @Summary Колбэк OAuth-провайдера
// @Description Обменивает код авторизации на внешнюю идентичность и выполняет намерение state-токена. Всегда отвечает HTML-страницей.
// @Tags Linkage
// @Produce  html
// @Param code query string true "Код авторизации провайдера"
// @Param state query string true "State-токен с намерением"
// @Success 200 {string} string "Страница подтверждения"
// @Failure 400 {string} string "Страница ошибки с кодом причины"
// @Router /auth/callback [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.callback"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		log.Error("missing code or state in callback")
		h.renderError(w, log, http.StatusBadRequest, ReasonInvalidState,
			"The sign-in link is malformed or has expired. Please start over from the application.")
		return
	}

	rec, err := h.service.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.renderFailure(w, log, err)
		return
	}

	log.Info("callback processed",
		slog.String("trial_id", rec.ID),
		slog.String("stage", string(rec.Stage)))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := successPage{
		ExpiresAt:     rec.ExpiresAt.Format("2 January 2006"),
		DaysRemaining: rec.DaysRemaining(time.Now().UTC()),
	}
	if err := successTemplate.Execute(w, page); err != nil {
		log.Error("failed to render success page", sl.Err(err))
	}
}

// renderFailure переводит ошибку операции в код причины и человекочитаемый текст.
func (h *Handler) renderFailure(w http.ResponseWriter, log *slog.Logger, err error) {
	var cooldown *trialservice.CooldownError
	switch {
	case errors.As(err, &cooldown):
		log.Info("reactivation rejected by cooldown", slog.Int("days_remaining", cooldown.DaysRemaining))
		h.renderError(w, log, http.StatusConflict, ReasonCooldownActive,
			fmt.Sprintf("Your previous trial ended recently. You'll be eligible again in %d day(s).", cooldown.DaysRemaining))
	case errors.Is(err, linkage.ErrInvalidState):
		log.Error("invalid state token", sl.Err(err))
		h.renderError(w, log, http.StatusBadRequest, ReasonInvalidState,
			"The sign-in link is malformed or has expired. Please start over from the application.")
	case errors.Is(err, linkage.ErrProviderUnavailable):
		log.Error("identity provider unavailable", sl.Err(err))
		h.renderError(w, log, http.StatusBadGateway, ReasonProviderUnavailable,
			"We couldn't reach the identity provider. Nothing was changed — please try again in a minute.")
	case errors.Is(err, linkage.ErrAlreadyCustomer):
		log.Info("identity belongs to a converted record")
		h.renderError(w, log, http.StatusConflict, ReasonAlreadyCustomer,
			"This account already has a full license. Sign in to the application directly.")
	case errors.Is(err, trialservice.ErrExternalIdentityReused):
		log.Info("external identity already used")
		h.renderError(w, log, http.StatusConflict, ReasonIdentityReused,
			"This account was already used to extend a different trial.")
	case errors.Is(err, trialservice.ErrAlreadyExtended), errors.Is(err, trialservice.ErrAlreadyConverted):
		log.Info("trial cannot be extended again")
		h.renderError(w, log, http.StatusConflict, ReasonAlreadyExtended,
			"This trial has already been extended.")
	case errors.Is(err, trialservice.ErrReactivationRequired):
		log.Info("extend requested for an expired trial")
		h.renderError(w, log, http.StatusConflict, ReasonReactivationRequired,
			"This trial has expired and cannot be extended. Start the sign-in from the application to reactivate it.")
	case errors.Is(err, trialservice.ErrNotFound):
		log.Error("trial not found for callback")
		h.renderError(w, log, http.StatusNotFound, ReasonTrialNotFound,
			"We couldn't find the trial this link refers to. Please start over from the application.")
	default:
		log.Error("failed to process callback", sl.Err(err))
		h.renderError(w, log, http.StatusInternalServerError, ReasonInternal,
			"An unexpected error occurred. Please try again.")
	}
}

func (h *Handler) renderError(w http.ResponseWriter, log *slog.Logger, status int, reason, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorTemplate.Execute(w, errorPage{Reason: reason, Message: message}); err != nil {
		log.Error("failed to render error page", sl.Err(err))
	}
}
