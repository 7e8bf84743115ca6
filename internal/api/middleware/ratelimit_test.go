package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "203.0.113.10"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewLimiterStore(2, 2, time.Minute)
	defer s.Stop()

	e := echo.New()
	handler := RateLimit(s)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	do := func(pixelKey string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if pixelKey != "" {
			req.Header.Set("X-Pixel-Key", pixelKey)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := handler(c)
		if err != nil {
			httpErr, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			return httpErr.Code
		}
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("pk-1"))
	assert.Equal(t, http.StatusOK, do("pk-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("pk-1"))

	// A different pixel key has its own budget
	assert.Equal(t, http.StatusOK, do("pk-2"))
}
