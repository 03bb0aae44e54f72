package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"parking_reservation/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are enforced by the CORS layer
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one live-feed subscriber. lotID 0 means every lot.
type wsClient struct {
	conn  *websocket.Conn
	lotID int
	send  chan []byte
}

// WebSocketManager fans spot status changes out to connected browsers.
// It implements service.Notifier.
type WebSocketManager struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan domain.SpotStatusNotification
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *slog.Logger
}

func NewWebSocketManager(logger *slog.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan domain.SpotStatusNotification, 256),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket")),
	}
}

// Start runs the hub loop until ctx is cancelled, then drops every client.
func (wsm *WebSocketManager) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			wsm.mutex.Lock()
			for client := range wsm.clients {
				close(client.send)
				delete(wsm.clients, client)
			}
			wsm.mutex.Unlock()
			close(wsm.done)
			return

		case client := <-wsm.register:
			wsm.mutex.Lock()
			wsm.clients[client] = true
			total := len(wsm.clients)
			wsm.mutex.Unlock()
			wsm.logger.Debug("client connected", slog.Int("lot_id", client.lotID), slog.Int("total", total))

		case client := <-wsm.unregister:
			wsm.mutex.Lock()
			if _, ok := wsm.clients[client]; ok {
				delete(wsm.clients, client)
				close(client.send)
			}
			total := len(wsm.clients)
			wsm.mutex.Unlock()
			wsm.logger.Debug("client disconnected", slog.Int("total", total))

		case n := <-wsm.broadcast:
			message, err := json.Marshal(n)
			if err != nil {
				wsm.logger.Error("marshal spot status", slog.String("error", err.Error()))
				continue
			}
			wsm.mutex.Lock()
			for client := range wsm.clients {
				if client.lotID != 0 && client.lotID != n.LotID {
					continue
				}
				select {
				case client.send <- message:
				default:
					// slow reader
					delete(wsm.clients, client)
					close(client.send)
				}
			}
			wsm.mutex.Unlock()
		}
	}
}

// ClientCount is the number of connected subscribers.
func (wsm *WebSocketManager) ClientCount() int {
	wsm.mutex.RLock()
	defer wsm.mutex.RUnlock()
	return len(wsm.clients)
}

func (wsm *WebSocketManager) SpotStatusChanged(_ context.Context, n domain.SpotStatusNotification) {
	select {
	case wsm.broadcast <- n:
	default:
		wsm.logger.Warn("broadcast channel is full, dropping message", slog.Int("spot_id", n.SpotID))
	}
}

type WebSocketHandler struct {
	wsManager *WebSocketManager
}

func NewWebSocketHandler(wsManager *WebSocketManager) *WebSocketHandler {
	return &WebSocketHandler{wsManager: wsManager}
}

// HandleWebSocket upgrades GET /ws. ?lot_id=N narrows the feed to one lot.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	lotID := 0
	if raw := c.Query("lot_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lot_id", "code": domain.ErrorCode(domain.ErrInvalidInput)})
			return
		}
		lotID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.wsManager.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{conn: conn, lotID: lotID, send: make(chan []byte, wsSendBuffer)}
	select {
	case h.wsManager.register <- client:
	case <-h.wsManager.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// readPump only watches for the peer going away; clients send nothing.
func (h *WebSocketHandler) readPump(client *wsClient) {
	defer func() {
		select {
		case h.wsManager.unregister <- client:
		case <-h.wsManager.done:
		}
	}()

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.wsManager.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
