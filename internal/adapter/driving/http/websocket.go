package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the configured UI origin once http.allowed_origins exists
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id.String()
}

type eventDTO struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (c *WSClient) SendSnapshot(snap domain.Snapshot) error {
	return c.send(eventDTO{Event: "snapshot", Data: snap})
}

func (c *WSClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

type commandDTO struct {
	Type          string `json:"type"`
	ToNumber      string `json:"to_number"`
	LeadReference string `json:"lead_reference"`
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.New(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	ctx := context.WithoutCancel(r.Context())
	for {
		var req commandDTO
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		// Commands may wait on the backend; the read loop keeps going.
		go h.handleCommand(ctx, l, client, req)
	}
}

func (h *Handler) handleCommand(ctx context.Context, l zerolog.Logger, client *WSClient, req commandDTO) {
	var err error
	switch req.Type {
	case "dial":
		err = h.Calls.Dial(ctx, req.ToNumber, req.LeadReference)
	case "answer":
		err = h.Calls.Answer(ctx)
	case "end":
		err = h.Calls.EndCall(ctx)
	case "decline":
		err = h.Calls.Decline(ctx)
	case "request_permission":
		var res domain.PermissionRequest
		res, err = h.Calls.RequestPermission(ctx, req.ToNumber, req.LeadReference)
		if err == nil {
			err = client.send(eventDTO{Event: "permission", Data: permissionResponse{Accepted: res.Accepted, Reason: res.Reason}})
			if err != nil {
				l.Debug().Err(err).Msg("Error sending permission result")
			}
			return
		}
	default:
		l.Warn().Str("type", req.Type).Msg("Unknown command")
		_, body := errorBody(domain.NewCallError(domain.KindUnknown, "unknown command "+req.Type, nil))
		_ = client.send(eventDTO{Event: "error", Data: body})
		return
	}

	if err != nil {
		l.Info().Err(err).Str("type", req.Type).Msg("Command failed")
		_, body := errorBody(err)
		if sendErr := client.send(eventDTO{Event: "error", Data: body}); sendErr != nil {
			l.Debug().Err(sendErr).Msg("Error sending command failure")
		}
	}
}
