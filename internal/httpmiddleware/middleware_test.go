package httpmiddleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func TestTokenBucketRefills(t *testing.T) {
	clock := time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, nil)
	l.now = func() time.Time { return clock }

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))

	clock = clock.Add(time.Second)
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))

	clock = clock.Add(time.Hour)
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
}

func limitedRouter(l *TokenBucket) *gin.Engine {
	r := gin.New()
	r.POST("/asistir", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	r := limitedRouter(NewTokenBucket(1, 1, func(*gin.Context) string { return "kiosk" }))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/asistir", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/asistir", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "demasiadas solicitudes")
}

func TestMiddlewareDisabled(t *testing.T) {
	r := limitedRouter(NewTokenBucket(0, 0, nil))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/asistir", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"reused", "kiosk-42", true},
		{"too long", strings.Repeat("x", 129), false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			assert.Equal(t, got, w.Body.String())
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
				return
			}
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestRequestIDReachesLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "handler"))

	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		logger.ErrorContext(c.Request.Context(), "list students")
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "kiosk-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kiosk-42", line[RequestIDKey])
	assert.Equal(t, "handler", line["component"])

	buf.Reset()
	logger.Info("startup")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, buf.String(), RequestIDKey)
}

func TestAccessLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{Formatter: AccessLogFormatter, Output: &buf}))
	r.Use(RequestID())
	r.GET("/lista", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/lista", nil)
	req.Header.Set(RequestIDHeader, "kiosk-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "kiosk-42")
	assert.Contains(t, buf.String(), `"/lista"`)
}
