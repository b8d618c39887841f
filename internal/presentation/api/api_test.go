package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/watchparty/internal/engine"
	"github.com/hilthontt/watchparty/internal/infrastructure/configs"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/metrics"
	"github.com/hilthontt/watchparty/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/watchparty/internal/infrastructure/ws"
	"github.com/hilthontt/watchparty/internal/persistence/repository"
	healthHandler "github.com/hilthontt/watchparty/internal/presentation/handler/health"
	roomHandler "github.com/hilthontt/watchparty/internal/presentation/handler/rooms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, limiter ratelimiter.Limiter) http.Handler {
	t.Helper()

	cfg, err := configs.Load("")
	require.NoError(t, err)
	cfg.HTTP.AllowedOrigins = []string{"https://watch.example.com"}

	logger := logging.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	store := repository.NewMemoryRoomRepository(0)
	router := ws.NewRouter(m, logger)
	eng := engine.New(store, router, logger, m, engine.Config{})

	app := NewApplication(*cfg,
		roomHandler.NewHandler(store, nil, eng, logger, cfg.HTTP.AllowedOrigins, time.Second),
		healthHandler.NewHandler(),
		m.Handler(),
		logger,
		limiter,
	)
	return app.Mount()
}

func TestMount_Routes(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t, nil))
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "Socket server running!"},
		{"/api/health", http.StatusOK, `"status":"ok"`},
		{"/api/ready", http.StatusOK, `"status":"ok"`},
		{"/api/rooms/ABCD/audit", http.StatusNotFound, "audit log is not enabled"},
		{"/api/rooms/NOPE", http.StatusNotFound, "room not found"},
		{"/metrics", http.StatusOK, "watchparty_goroutines"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			buf := new(strings.Builder)
			_, _ = io.Copy(buf, resp.Body)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, buf.String(), tt.body)
		})
	}
}

func TestMount_RateLimited(t *testing.T) {
	limiter := ratelimiter.NewFixedWindowRateLimiter(2, 15*time.Minute)
	defer limiter.Close()
	handler := newTestApp(t, limiter)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMount_Cors(t *testing.T) {
	handler := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://watch.example.com")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://watch.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMount_WebsocketThroughMiddleware(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "room:create",
		"data": map[string]any{"code": "WXYZ", "userId": "u1", "nickname": "Alice"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, engine.RoomCreated, evt.Type)
	assert.Equal(t, "WXYZ", evt.RoomID)
}
