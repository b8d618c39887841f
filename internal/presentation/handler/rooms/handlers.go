package rooms

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/watchparty/internal/domain"
	"github.com/hilthontt/watchparty/internal/infrastructure/json"
	"github.com/hilthontt/watchparty/internal/infrastructure/logging"
	"github.com/hilthontt/watchparty/internal/infrastructure/ws"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type Handler struct {
	roomRepository  domain.RoomRepository
	auditRepository domain.RoomAuditRepository
	dispatcher      ws.Dispatcher
	logger          logging.Logger
	storeTimeout    time.Duration
	upgrader        websocket.Upgrader
	clientOpts      []ws.ClientOption
}

// NewHandler builds the room handlers. auditRepository may be nil when no
// audit log is kept.
func NewHandler(
	roomRepository domain.RoomRepository,
	auditRepository domain.RoomAuditRepository,
	dispatcher ws.Dispatcher,
	logger logging.Logger,
	allowedOrigins []string,
	storeTimeout time.Duration,
	clientOpts ...ws.ClientOption,
) *Handler {
	return &Handler{
		roomRepository:  roomRepository,
		auditRepository: auditRepository,
		dispatcher:      dispatcher,
		logger:          logger,
		storeTimeout:    storeTimeout,
		clientOpts:      clientOpts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// GetRoomHandler godoc
// @Summary      Get a room snapshot
// @Description  Returns the current state of a watch party room: users, queue, player state, messages and settings
// @Tags         rooms
// @Produce      json
// @Param        code path string true "Room code"
// @Success      200 {object} domain.Room "Room snapshot"
// @Failure      400 {object} json.ErrorResponse "Room code is missing"
// @Failure      404 {object} json.ErrorResponse "Room not found"
// @Failure      503 {object} json.ErrorResponse "Room store unavailable"
// @Router       /rooms/{code} [get]
func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		json.WriteBadRequestError(w, "room code is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
	defer cancel()

	room, err := h.roomRepository.Get(ctx, code)
	if err != nil {
		json.WriteDomainError(w, err)
		return
	}

	json.WriteJSON(w, http.StatusOK, room)
}

// GetRoomAuditHandler godoc
// @Summary      List a room's lifecycle events
// @Description  Returns the newest audit log entries recorded for a room code, newest first. Entries outlive the room itself.
// @Tags         rooms
// @Produce      json
// @Param        code path string true "Room code"
// @Param        limit query int false "Maximum number of entries (1-500, default 50)"
// @Success      200 {array} domain.RoomAuditLog "Audit log entries"
// @Failure      400 {object} json.ErrorResponse "Invalid room code or limit"
// @Failure      404 {object} json.ErrorResponse "Audit log is not enabled"
// @Failure      503 {object} json.ErrorResponse "Audit store unavailable"
// @Router       /rooms/{code}/audit [get]
func (h *Handler) GetRoomAuditHandler(w http.ResponseWriter, r *http.Request) {
	if h.auditRepository == nil {
		json.WriteError(w, http.StatusNotFound, "audit log is not enabled")
		return
	}

	code := chi.URLParam(r, "code")
	if code == "" {
		json.WriteBadRequestError(w, "room code is required")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			json.WriteBadRequestError(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
	defer cancel()

	logs, err := h.auditRepository.GetByRoomCode(ctx, code, limit)
	if err != nil {
		h.logger.Error(logging.MongoDB, logging.Select, "failed to read audit log", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	if logs == nil {
		logs = []domain.RoomAuditLog{}
	}

	json.WriteJSON(w, http.StatusOK, logs)
}

// ServeWS godoc
// @Summary      Open a watch party connection
// @Description  Upgrades to a WebSocket. Clients then send {type, data} commands such as room:create, room:join or video:seek and receive room:created, room:updated, room:error and reaction:new events.
// @Tags         rooms
// @Success      101 {object} map[string]interface{} "Switching Protocols - WebSocket connection established"
// @Failure      403 {object} map[string]interface{} "Origin not allowed"
// @Router       /ws [get]
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Startup, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, h.logger, h.clientOpts...)
	h.logger.Debug(logging.WebSocket, logging.Startup, "client connected", map[logging.ExtraKey]any{
		logging.ConnID: client.ID(),
	})

	go client.WritePump()
	client.ReadPump(r.Context(), h.dispatcher)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}

		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
