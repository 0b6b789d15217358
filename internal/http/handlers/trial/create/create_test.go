package create

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// MockService реализует интерфейс create.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, deviceID string) (*models.TrialRecord, error) {
	args := m.Called(ctx, deviceID)
	if res := args.Get(0); res != nil {
		return res.(*models.TrialRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCreateHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	deviceID := "a1b2c3d4e5f6a7b8"

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешный старт триала",
			body: `{"device_id": "a1b2c3d4e5f6a7b8"}`,
			setupMock: func(m *MockService) {
				now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
				rec := &models.TrialRecord{
					ID:        "11111111-1111-1111-1111-111111111111",
					DeviceID:  &deviceID,
					Stage:     models.StageAnonymous,
					StartedAt: now,
					ExpiresAt: now.Add(7 * 24 * time.Hour),
				}
				m.On("Create", mock.Anything, deviceID).Return(rec, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"stage":"anonymous"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{device_id: broken`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "слишком короткий отпечаток",
			body:           `{"device_id": "short"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field DeviceID is too short`,
		},
		{
			name: "ошибка сервиса",
			body: `{"device_id": "a1b2c3d4e5f6a7b8"}`,
			setupMock: func(m *MockService) {
				m.On("Create", mock.Anything, deviceID).Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not create trial"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/trials", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
