package health

import (
	"net/http"
	"time"

	"github.com/hilthontt/watchparty/internal/infrastructure/json"
)

const rootBody = "Socket server running!"

type Handler struct {
	startedAt time.Time
	now       func() time.Time
}

func NewHandler() *Handler {
	return &Handler{
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// GetRoot godoc
// @Summary      Liveness banner
// @Description  Plain-text body confirming the socket server is up
// @Tags         health
// @Produce      plain
// @Success      200 {string} string "Socket server running!"
// @Router       / [get]
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rootBody))
}

// GetHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the server, including uptime and current timestamp
// @Tags         health
// @Produce      json
// @Success      200 {object} healthResponse "Service is healthy"
// @Router       /health [get]
// @Router       /healthz [get]
// @Router       /ready [get]
// @Router       /live [get]
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	data := healthResponse{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startedAt).Round(time.Second).String(),
	}
	json.WriteJSON(w, http.StatusOK, data)
}
