package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cake-server/internal/core"
	"cake-server/internal/entities"
	"cake-server/internal/fanout"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Message is everything the server writes on a room socket. Snapshot and
// Event are pushed; the other fields answer a client command of the same
// Type.
type Message struct {
	Type     string         `json:"Type"`
	Error    string         `json:"Error,omitempty"`
	Snapshot *core.Snapshot `json:"Snapshot,omitempty"`
	Event    *fanout.Event  `json:"Event,omitempty"`
	Result   interface{}    `json:"Result,omitempty"`

	last bool
}

// Command is a client request sent over the socket.
type Command struct {
	Type     string            `json:"Type"`
	EntryID  string            `json:"EntryId"`
	X        *float64          `json:"X"`
	Y        *float64          `json:"Y"`
	Category entities.Category `json:"Category"`
	Value    *int              `json:"Value"`
	Expect   *core.Cursor      `json:"Expect"`
	Name     string            `json:"Name"`
}

type wsClient struct {
	socket *websocket.Conn
	send   chan Message
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (c *wsClient) push(m Message) {
	select {
	case c.send <- m:
	case <-c.done:
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) onSnapshot(snap core.Snapshot) {
	c.push(Message{Type: "Snapshot", Snapshot: &snap})
}

// onEvent forwards a committed event. After a resync the bus has already
// dropped us, so the socket is closed once the event is written and the client
// reconnects for a fresh snapshot.
func (c *wsClient) onEvent(ev fanout.Event) {
	c.push(Message{Type: "Event", Event: &ev, last: ev.Kind == fanout.KindResync})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case m := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(m); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.close()
				return
			}
			if m.last {
				c.close()
				_ = c.socket.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "resync"), time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// WsHandler streams a room to the client: one Snapshot, then every later
// Event. The client may send commands on the same socket.
func (s *Server) WsHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.roomOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deviceID := deviceFrom(r.Context()).ID

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	c := &wsClient{
		socket: socket,
		send:   make(chan Message, sendBuffer),
		done:   make(chan struct{}),
		logger: log.With().Str("room_id", room.ID.String()).Str("device_id", deviceID).Logger(),
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump()
	}()

	unsubscribe, err := s.rooms.Connect(room.ID, c.onSnapshot, c.onEvent)
	if err != nil {
		c.logger.Error().Err(err).Msg("Subscribe failed")
		c.close()
		<-pumpDone
		return
	}
	c.logger.Info().Msg("Conn opened")

	go func() {
		select {
		case <-s.quit:
			c.close()
		case <-c.done:
		}
	}()

	s.readPump(r.Context(), c, room.ID, deviceID)

	unsubscribe()
	c.close()
	<-pumpDone
	c.logger.Info().Msg("Conn destroyed")
}

func (s *Server) readPump(ctx context.Context, c *wsClient, roomID uuid.UUID, deviceID string) {
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, bytes, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(bytes, &cmd); err != nil {
			c.push(Message{Type: "Error", Error: "malformed command"})
			continue
		}

		response := Message{Type: cmd.Type}
		result, err := s.command(ctx, roomID, deviceID, cmd)
		if err != nil {
			response.Error = err.Error()
		} else {
			response.Result = result
		}
		c.push(response)
	}
}

func (s *Server) command(ctx context.Context, roomID uuid.UUID, deviceID string, cmd Command) (interface{}, error) {
	player, err := s.rooms.PlayerByDevice(roomID, deviceID)
	if err != nil {
		return nil, err
	}

	switch cmd.Type {
	case "PlaceEntry":
		entryID, err := parseID(cmd.EntryID, "entry id")
		if err != nil {
			return nil, err
		}
		if cmd.X == nil || cmd.Y == nil {
			return nil, errValidation("X and Y are required")
		}
		return s.rooms.PlaceEntry(ctx, roomID, entryID, *cmd.X, *cmd.Y, &player.ID)

	case "CastVote":
		entryID, err := parseID(cmd.EntryID, "entry id")
		if err != nil {
			return nil, err
		}
		category := cmd.Category
		if category == "" {
			category = entities.CategoryWildest
		}
		value := 1
		if cmd.Value != nil {
			value = *cmd.Value
		}
		return s.rooms.CastVote(ctx, roomID, entryID, player.ID, category, value)

	case "AdvancePhase":
		return s.rooms.AdvancePhase(ctx, roomID, player.ID, cmd.Expect)

	case "Rename":
		return s.rooms.RenamePlayer(ctx, roomID, player.ID, cmd.Name)
	}
	return nil, errValidation("unknown command %q", cmd.Type)
}
