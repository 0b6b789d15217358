package middlewarectx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(newNoopLogger())(next)

	var passed, limited int
	for range 60 {
		req := httptest.NewRequest(http.MethodPost, "/trials", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK:
			passed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	// Бёрст пропускается, хвост плотной серии отбрасывается.
	assert.GreaterOrEqual(t, passed, 30)
	assert.GreaterOrEqual(t, limited, 1)
}
