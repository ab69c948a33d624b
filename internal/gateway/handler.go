package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/logger"
)

// Handler upgrades requests and joins the requested rooms.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     ClientOptions
	logg     *logger.Logger
}

// NewHandler builds the websocket endpoint. An empty origin list allows any
// origin.
func NewHandler(hub *Hub, cfg config.GatewayConfig, logg *logger.Logger) *Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[strings.ToLower(r.Header.Get("Origin"))]
				return ok
			},
		},
		opts: ClientOptions{
			SendBuffer:   cfg.SendBuffer,
			PingInterval: cfg.PingInterval,
			WriteTimeout: cfg.WriteTimeout,
		},
		logg: logg,
	}
}

// RoomsFromQuery reads brandId and userId parameters into room names.
func RoomsFromQuery(q url.Values) ([]string, bool) {
	var rooms []string
	if raw := q.Get("brandId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false
		}
		rooms = append(rooms, BrandRoom(id))
	}
	if raw := q.Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false
		}
		rooms = append(rooms, UserRoom(id))
	}
	return rooms, len(rooms) > 0
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rooms, ok := RoomsFromQuery(r.URL.Query())
	if !ok {
		http.Error(w, "brandId or userId query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logg.Warn(r.Context(), "websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, h.opts, h.logg)
	if err := h.hub.Join(client, rooms...); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		_ = conn.Close()
		return
	}
	client.Start()
}
