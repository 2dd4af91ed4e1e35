package loggingmw

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/football_stats/pkg/logging"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requestID string
		handler   echo.HandlerFunc
		wantCode  int
		wantLevel string
	}{
		{
			name:      "ok with incoming request id",
			requestID: "req-1",
			handler: func(c echo.Context) error {
				logging.FromContext(c.Request().Context()).Info("inside")
				return c.NoContent(http.StatusOK)
			},
			wantCode:  http.StatusOK,
			wantLevel: "INFO",
		},
		{
			name: "client error",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "nope")
			},
			wantCode:  http.StatusUnauthorized,
			wantLevel: "WARN",
		},
		{
			name: "server error",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusInternalServerError, "boom")
			},
			wantCode:  http.StatusInternalServerError,
			wantLevel: "ERROR",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			e := echo.New()
			e.Use(RequestLogger(logging.NewWithWriter(&buf, "debug")))
			e.GET("/x", tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.requestID != "" {
				req.Header.Set(echo.HeaderXRequestID, tt.requestID)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			rid := rec.Header().Get(echo.HeaderXRequestID)
			require.NotEmpty(t, rid)
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, rid)
			}

			lines := logLines(t, &buf)
			require.NotEmpty(t, lines)
			last := lines[len(lines)-1]
			assert.Equal(t, "request_completed", last["msg"])
			assert.Equal(t, tt.wantLevel, last["level"])
			assert.EqualValues(t, tt.wantCode, last["status"])
			assert.Equal(t, rid, last["request_id"])
			assert.Equal(t, "/x", last["path"])
		})
	}
}

func TestRequestLogger_QuietPathsAndUser(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestLogger(logging.NewWithWriter(&buf, "info"), "/health/live"))
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/me", func(c echo.Context) error {
		c.Set(UserIDKey, uint(7))
		return c.NoContent(http.StatusOK)
	})

	for _, path := range []string{"/health/live", "/me"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	lines := logLines(t, &buf)
	require.Len(t, lines, 1, "probe requests stay below info")
	assert.Equal(t, "/me", lines[0]["path"])
	assert.EqualValues(t, 7, lines[0]["user_id"])
}
