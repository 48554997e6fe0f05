package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"wagate/internal/eventbus"
	"wagate/pkg/logx"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsEventBuffer  = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebsocket attaches one live observer: a greeting on connect, then
// every bus event in publish order until the client goes away. Slow clients
// miss events rather than stall the bus.
func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log := s.log.With(logx.String("remote", conn.RemoteAddr().String()))
	log.Debug("websocket client attached")

	events, unsub := s.bus.Subscribe(wsEventBuffer)
	defer unsub()

	greeting := eventbus.Event{
		Type: eventbus.TypeConnection,
		Data: map[string]string{"message": "Connected to WhatsApp Gateway"},
		Time: time.Now(),
	}
	if err := s.writeEvent(conn, greeting); err != nil {
		return nil
	}

	// Reads are discarded; the loop exists to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Debug("websocket client detached")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev := <-events:
			if err := s.writeEvent(conn, ev); err != nil {
				log.Debug("websocket write failed", logx.Err(err))
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev eventbus.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
