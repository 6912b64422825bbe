package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
	syncpkg "github.com/halcyon-ai/halcyon-sync/internal/sync"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 5 * time.Second

// Ingestor is the sync-manager surface the endpoint hands events to.
// Satisfied by *sync.Manager.
type Ingestor interface {
	Ingest(ctx context.Context, e *model.SyncEvent, originConnID string) (*syncpkg.Result, error)
}

// inboundMessage is the envelope clients send: a sync_event payload or a
// keep-alive ping. Pings bypass the sync manager entirely.
type inboundMessage struct {
	Type  string           `json:"type"`
	Event *model.SyncEvent `json:"event,omitempty"`
}

// WSHandler upgrades HTTP requests to WebSocket sync sessions. Connection
// identity and interests come from query parameters: user_id, device_id, and
// an optional comma-separated entity_types filter.
type WSHandler struct {
	hub      *Hub
	ingestor Ingestor
	log      zerolog.Logger
	queueCap int
}

// NewWSHandler builds the endpoint handler.
func NewWSHandler(hub *Hub, ing Ingestor, log zerolog.Logger, queueCap int) *WSHandler {
	return &WSHandler{hub: hub, ingestor: ing, log: log, queueCap: queueCap}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	conn := NewConnection(
		connID,
		r.URL.Query().Get("user_id"),
		r.URL.Query().Get("device_id"),
		parseInterests(r.URL.Query().Get("entity_types")),
		h.queueCap,
		func() { _ = ws.Close(websocket.StatusGoingAway, "unregistered") },
	)

	// Register replays the user's offline queue into the outbound buffer
	// before any live broadcast reaches this connection; the writer below
	// then delivers everything in order.
	h.hub.Register(conn)
	go h.writeLoop(ws, conn)
	h.readLoop(r.Context(), ws, conn)
	h.hub.Unregister(connID)
}

// readLoop decodes inbound envelopes until the connection drops. A client
// disconnect mid-ingest does not roll anything back; the event is still
// applied and broadcast.
func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		conn.Touch()

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			h.hub.SendTo(conn.ID, &model.Message{
				Type:      model.MsgSyncError,
				Error:     "malformed message",
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		switch in.Type {
		case "ping":
			h.hub.SendTo(conn.ID, &model.Message{Type: model.MsgPong, Timestamp: time.Now().UTC()})
		case "sync_event":
			if in.Event != nil && in.Event.UserID == "" {
				in.Event.UserID = conn.UserID
			}
			if in.Event != nil && in.Event.DeviceID == "" {
				in.Event.DeviceID = conn.DeviceID
			}
			if _, err := h.ingestor.Ingest(ctx, in.Event, conn.ID); err != nil {
				// Validation, persistence, and unresolved-conflict failures
				// are surfaced to the originating connection only.
				h.hub.SendTo(conn.ID, &model.Message{
					Type:      model.MsgSyncError,
					Error:     err.Error(),
					Timestamp: time.Now().UTC(),
				})
			}
		default:
			h.hub.SendTo(conn.ID, &model.Message{
				Type:      model.MsgSyncError,
				Error:     "unknown message type",
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// writeLoop drains the connection's outbound buffer to the socket. Write
// failures end the session; the hub closes the buffer on unregister, which
// ends the range.
func (h *WSHandler) writeLoop(ws *websocket.Conn, conn *Connection) {
	for msg := range conn.Outbound() {
		data, err := json.Marshal(msg)
		if err != nil {
			h.log.Error().Err(err).Str("conn_id", conn.ID).Msg("marshal outbound message")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = ws.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("outbound write failed")
			h.hub.Unregister(conn.ID)
			return
		}
	}
}

func parseInterests(raw string) []model.EntityType {
	if raw == "" {
		return nil
	}
	var out []model.EntityType
	for _, part := range strings.Split(raw, ",") {
		et := model.EntityType(strings.TrimSpace(part))
		if model.KnownEntityType(et) {
			out = append(out, et)
		}
	}
	return out
}
