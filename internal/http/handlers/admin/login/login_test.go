package login

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/config"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/jwt"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/password"
)

func TestLoginHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hash, err := password.GetHash("admin-password")
	require.NoError(t, err)

	admin := config.Admin{
		Username:     "admin",
		PasswordHash: hash,
	}
	jwtMaker := jwt.NewJWTMaker("test-secret", time.Hour)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "успешная авторизация",
			body:           `{"username": "admin", "password": "admin-password"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"role":"admin"`,
		},
		{
			name:           "неверный пароль",
			body:           `{"username": "admin", "password": "wrong-password"}`,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"invalid credentials"`,
		},
		{
			name:           "неизвестный пользователь",
			body:           `{"username": "intruder", "password": "admin-password"}`,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"invalid credentials"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{username: broken`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "слишком короткий пароль",
			body:           `{"username": "admin", "password": "abc"}`,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field Password is too short`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New(logger, admin, jwtMaker)

			req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())
		})
	}

	t.Run("выданный токен парсится и несет роль admin", func(t *testing.T) {
		handler := New(logger, admin, jwtMaker)

		req := httptest.NewRequest(http.MethodPost, "/admin/login",
			strings.NewReader(`{"username": "admin", "password": "admin-password"}`))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		start := strings.Index(body, `"token":"`)
		require.Greater(t, start, 0)
		rest := body[start+len(`"token":"`):]
		token := rest[:strings.Index(rest, `"`)]

		claims, err := jwtMaker.ParseToken(token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
		assert.Equal(t, "admin", claims.Role)
	})
}
