package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/john/monox_bridge/bridge"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// jsonRPCRequest represents an incoming JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id"`
}

// jsonRPCResponse represents an outgoing JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

// jsonRPCNotification represents a server-to-client notification (no id).
type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	subscribed bool
}

func (c *WSClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *WSClient) setSubscribed() {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
}

func (c *WSClient) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// WSHub manages all WebSocket clients.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool
	server  *Server
}

func NewWSHub(s *Server) *WSHub {
	return &WSHub{
		clients: make(map[*WSClient]bool),
		server:  s,
	}
}

func (h *WSHub) register(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) unregister(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastStatusUpdate sends notify_status_update to all subscribed clients.
// It has the bridge.StatusCallback signature.
func (h *WSHub) BroadcastStatusUpdate(data bridge.StateData) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	notification := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  "notify_status_update",
		Params:  []any{statusPayload(data)},
	}

	for client := range h.clients {
		if !client.isSubscribed() {
			continue
		}
		if err := client.send(notification); err != nil {
			log.Debug().Err(err).Msg("websocket send")
		}
	}
}

// CloseAll drops every client connection.
func (h *WSHub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.conn.Close()
	}
}

// HandleWebSocket upgrades the HTTP connection to WebSocket and processes JSON-RPC.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &WSClient{conn: conn}
	h.register(client)
	defer func() {
		h.unregister(client)
		conn.Close()
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeParseError, Message: "Parse error"},
			})
			continue
		}

		h.handleRPC(client, &req)
	}
}

func (h *WSHub) handleRPC(client *WSClient, req *jsonRPCRequest) {
	log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("websocket rpc")

	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "printer.status":
		resp.Result = h.server.printerStatus()

	case "printer.info":
		resp.Result = h.server.printerInfo()

	case "printer.diagnostics":
		resp.Result = h.server.current().Diagnostics()

	case "printer.subscribe":
		client.setSubscribed()
		resp.Result = h.server.printerStatus()

	default:
		resp.Error = &rpcError{
			Code:    codeMethodNotFound,
			Message: "Method not found: " + req.Method,
		}
	}

	if err := client.send(resp); err != nil {
		log.Debug().Err(err).Msg("websocket response send")
	}
}
