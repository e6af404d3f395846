package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Hub Loop
// -----------------------------------------------------------------------------

// handleWebsockets owns the client set. It exits when the server context is
// cancelled, closing every client send channel on the way out.
func (s *HTTPServer) handleWebsockets() {
	for {
		select {
		case <-s.ctx.Done():
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			// New clients get the full current state right away
			client.send <- s.buildFrame("INITIAL")
			s.Logger.Debug("%s : websocket client %s registered (%d total)", s.Config.Name, client.id, len(s.clients))

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}

		case r := <-s.replies:
			if _, ok := s.clients[r.client]; ok {
				select {
				case r.client.send <- r.message:
				default:
				}
			}

		case frame := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer, drop it so the hub never blocks
					s.Logger.Warning("%s : websocket client %s too slow, disconnecting", s.Config.Name, client.id)
					delete(s.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Render Loop
// -----------------------------------------------------------------------------

// renderLoop pushes an UPDATE frame on each tick where the series version or
// the connection status changed since the previous push.
func (s *HTTPServer) renderLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastVersion  uint64
		lastState    string
		lastAttempts int
		lastKeys     string
		first        = true
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		status := s.stream.Status()
		version := s.stream.Version()
		keys, _ := json.Marshal(status.Securities)
		if !first && version == lastVersion && status.State == lastState &&
			status.Attempts == lastAttempts && string(keys) == lastKeys {
			continue
		}
		first = false
		lastVersion, lastState, lastAttempts, lastKeys = version, status.State, status.Attempts, string(keys)

		select {
		case s.broadcast <- s.buildFrame("UPDATE"):
		case <-s.ctx.Done():
			return
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warning("%s : failed to upgrade websocket: %v", s.Config.Name, err)
		return
	}

	// send is buffered so a burst of frames does not block the hub loop
	client := &Client{
		id:      uuid.NewString(),
		hub:     s,
		conn:    conn,
		send:    make(chan interface{}, 64),
		limiter: rate.NewLimiter(rate.Limit(commandRate), commandBurst),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Commands
// -----------------------------------------------------------------------------

// MClientCommand is a control message sent by a WebSocket client
type MClientCommand struct {
	Command    string   `json:"command"` // subscribe, unsubscribe, set, snapshot
	Securities []string `json:"securities"`
}

// clientReply is routed through the hub, which owns client.send
type clientReply struct {
	client  *Client
	message interface{}
}

// MCommandResult acknowledges a client command
type MCommandResult struct {
	Type       string   `json:"type"` // ACK or ERROR
	Command    string   `json:"command"`
	Securities []string `json:"securities"`
	Error      string   `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------

// HandleClientMessage applies a client command to the stream and replies to
// that client only. Undecodable commands close the client.
func (s *HTTPServer) HandleClientMessage(client *Client, message []byte) {
	var cmd MClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Warning("%s : bad command from client %s, disconnecting: %v", s.Config.Name, client.id, err)
		client.conn.Close()
		return
	}

	var (
		reply interface{}
		err   error
	)
	switch cmd.Command {
	case "subscribe":
		for _, key := range cmd.Securities {
			if err = s.stream.Subscribe(key); err != nil {
				break
			}
		}
	case "unsubscribe":
		for _, key := range cmd.Securities {
			if err = s.stream.Unsubscribe(key); err != nil {
				break
			}
		}
	case "set":
		err = s.stream.SetSubscriptions(cmd.Securities)
	case "snapshot":
		reply = s.buildFrame("INITIAL")
	default:
		s.Logger.Debug("%s : ignoring unknown client command '%s'", s.Config.Name, cmd.Command)
		return
	}

	if reply == nil {
		result := &MCommandResult{Type: "ACK", Command: cmd.Command, Securities: s.stream.Subscriptions()}
		if err != nil {
			result.Type = "ERROR"
			result.Error = err.Error()
		}
		reply = result
	}

	select {
	case s.replies <- clientReply{client: client, message: reply}:
	case <-s.ctx.Done():
	}
}
