// Package login реализует HTTP-обработчик аутентификации администратора.
//
// Учетные данные панели задаются в конфиге; при совпадении пароля
// с bcrypt-хэшем выдается JWT с ролью admin для доступа к модерации.
package login

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/config"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/http/response"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/jwt"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/password"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
)

// Request — структура входных данных для авторизации администратора.
type Request struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

// Handler обрабатывает HTTP-запросы авторизации администратора.
type Handler struct {
	log      *slog.Logger        // Логгер для записи операций и ошибок
	admin    config.Admin        // Учетные данные панели из конфига
	jwtMaker jwt.Maker           // Генератор JWT токенов
	validate *validator.Validate // Валидатор для проверки входных данных
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, admin config.Admin, jwtMaker jwt.Maker) *Handler {
	return &Handler{
		log:      log,
		admin:    admin,
		jwtMaker: jwtMaker,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Авторизация администратора
// @Description Аутентифицирует администратора по имени и паролю. Возвращает JWT с ролью admin.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body Request true "Учетные данные администратора"
// @Success 200 {object} response.Response "Успешная авторизация"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Неверные учетные данные"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /admin/login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.login"

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

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if req.Username != h.admin.Username ||
		password.CompareHash(h.admin.PasswordHash, req.Password) != nil {
		log.Error("invalid admin credentials", slog.String("username", req.Username))
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	}

	token, err := h.jwtMaker.GenerateToken(req.Username, "admin")
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not generate token"))
		return
	}

	log.Info("admin login success", slog.String("username", req.Username))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"token":    token,
		"role":     "admin",
		"username": req.Username,
	}))
}
