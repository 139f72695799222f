package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/arborlabs/arbor/internal/rag"
	"github.com/arborlabs/arbor/internal/session"
	"github.com/arborlabs/arbor/internal/tree"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// turnRequest is one client query over the websocket.
type turnRequest struct {
	UserID         string   `json:"user_id"`
	ConversationID string   `json:"conversation_id"`
	QueryID        string   `json:"query_id"`
	Query          string   `json:"query"`
	Collections    []string `json:"collections"`
}

// turnEvent is one streamed event, tagged with the query it belongs to.
type turnEvent struct {
	QueryID string `json:"query_id"`
	tree.Event
}

type wsConn struct {
	id      string
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) send(ev turnEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// hub tracks open websocket connections and registers them with the session
// manager so client activity feeds the idle clocks.
type hub struct {
	manager *session.Manager
	library *rag.Library
	logger  *log.Logger

	mu    sync.Mutex
	conns map[string]*wsConn
}

func newHub(manager *session.Manager, library *rag.Library, logger *log.Logger) *hub {
	return &hub{manager: manager, library: library, logger: logger, conns: make(map[string]*wsConn)}
}

// handle upgrades the request and serves turn requests until the client
// disconnects. Queries on one connection run serially; the per-key gate in
// the session manager serializes across connections.
func (h *hub) handle(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	wc := &wsConn{id: uuid.NewString(), userID: userID, conn: conn}
	h.mu.Lock()
	h.conns[wc.id] = wc
	h.mu.Unlock()
	h.manager.RegisterConnection(userID, wc.id)
	h.logger.Printf("connection %s opened for user %s", wc.id, userID)

	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.conns, wc.id)
		h.mu.Unlock()
		h.manager.UnregisterConnection(userID, wc.id)
		_ = conn.Close()
		h.logger.Printf("connection %s closed for user %s", wc.id, userID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var req turnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = wc.send(turnEvent{Event: tree.ErrorEvent("bad_request", "invalid JSON request")})
			continue
		}
		if req.UserID == "" {
			req.UserID = userID
		}
		if req.ConversationID == "" || req.Query == "" {
			_ = wc.send(turnEvent{QueryID: req.QueryID, Event: tree.ErrorEvent("bad_request", "conversation_id and query are required")})
			continue
		}
		if len(req.Collections) == 0 {
			req.Collections = h.library.Names()
		}
		h.manager.RegisterConnection(userID, wc.id)
		h.serveTurn(ctx, wc, req)
	}
}

func (h *hub) serveTurn(ctx context.Context, wc *wsConn, req turnRequest) {
	events := make(chan tree.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- h.manager.Process(ctx, req.UserID, req.ConversationID, req.Query, req.Collections, events)
		close(events)
	}()
	for ev := range events {
		if err := wc.send(turnEvent{QueryID: req.QueryID, Event: ev}); err != nil {
			// Client is gone; drain so the turn can commit its state.
			for range events {
			}
			break
		}
	}
	if err := <-done; err != nil {
		h.logger.Printf("turn failed for %s/%s: %v", req.UserID, req.ConversationID, err)
	}
}
