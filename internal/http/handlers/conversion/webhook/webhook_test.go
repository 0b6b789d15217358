package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

// MockService реализует интерфейс webhook.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Convert(ctx context.Context, entitlementID string, candidates models.ConversionCandidates) (*models.TrialRecord, error) {
	args := m.Called(ctx, entitlementID, candidates)
	if res := args.Get(0); res != nil {
		return res.(*models.TrialRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	const secret = "test-webhook-secret"

	tests := []struct {
		name           string
		body           string
		signature      func(body string) string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:      "конверсия сопоставлена с триалом",
			body:      `{"entitlement_id": "ent-42", "device_id": "a1b2c3d4e5f6a7b8"}`,
			signature: func(body string) string { return sign(secret, body) },
			setupMock: func(m *MockService) {
				rec := &models.TrialRecord{
					ID:                     "11111111-1111-1111-1111-111111111111",
					Stage:                  models.StageConverted,
					ConvertedEntitlementID: "ent-42",
					ExpiresAt:              time.Now().UTC(),
				}
				m.On("Convert", mock.Anything, "ent-42", models.ConversionCandidates{
					DeviceID: "a1b2c3d4e5f6a7b8",
				}).Return(rec, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"matched":true`,
		},
		{
			name:      "совпадений нет — валидный исход",
			body:      `{"entitlement_id": "ent-42", "email": "nobody@example.com"}`,
			signature: func(body string) string { return sign(secret, body) },
			setupMock: func(m *MockService) {
				m.On("Convert", mock.Anything, "ent-42", models.ConversionCandidates{
					Email: "nobody@example.com",
				}).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"matched":false`,
		},
		{
			name:           "отсутствует подпись",
			body:           `{"entitlement_id": "ent-42"}`,
			signature:      func(_ string) string { return "" },
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"invalid signature"`,
		},
		{
			name:           "неверная подпись",
			body:           `{"entitlement_id": "ent-42"}`,
			signature:      func(body string) string { return sign("wrong-secret", body) },
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"invalid signature"`,
		},
		{
			name:           "отсутствует entitlement_id",
			body:           `{"device_id": "a1b2c3d4e5f6a7b8"}`,
			signature:      func(body string) string { return sign(secret, body) },
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field EntitlementID is a required field`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService, secret)

			req := httptest.NewRequest(http.MethodPost, "/conversions/webhook", strings.NewReader(tt.body))
			if sig := tt.signature(tt.body); sig != "" {
				req.Header.Set("X-Api-Signature", sig)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
