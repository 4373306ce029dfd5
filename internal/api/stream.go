package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/node"
)

const (
	streamWriteWait = 2 * time.Second
	streamBuffer    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API is served to local tools only
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamMessage struct {
	Positions    []event.Position `json:"positions,omitempty"`
	Calibrations []streamCal      `json:"calibrations,omitempty"`
}

type streamCal struct {
	Command       string  `json:"command"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
	ScreenCenterX float64 `json:"screen_center_x"`
	ScreenCenterY float64 `json:"screen_center_y"`
}

func newStreamMessage(o node.Output) streamMessage {
	m := streamMessage{Positions: o.Positions}
	for _, c := range o.Calibrations {
		m.Calibrations = append(m.Calibrations, streamCal{
			Command:       c.Command.Format(),
			OffsetX:       c.State.OffsetX,
			OffsetY:       c.State.OffsetY,
			ScreenCenterX: c.State.ScreenCenterX,
			ScreenCenterY: c.State.ScreenCenterY,
		})
	}
	return m
}

// stream upgrades to a websocket and sends one JSON message per cycle that
// produced output. Cycles are dropped for a client that falls behind.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, ch := s.runner.Subscribe(streamBuffer)
	defer s.runner.Unsubscribe(id)

	// the client sends nothing; reading surfaces its close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case o, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "node stopped"),
					time.Now().Add(streamWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(newStreamMessage(o)); err != nil {
				log.Printf("stream: write error: %v", err)
				return
			}
		}
	}
}
