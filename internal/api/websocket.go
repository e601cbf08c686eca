package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/events"
)

const (
	backlogSize = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClient is one telemetry stream. The subscription is taken before the
// backlog is read, so events with a sequence at or below the last replayed
// one are duplicates and skipped.
type wsClient struct {
	conn    *websocket.Conn
	sub     events.Subscriber
	lastSeq uint64
	logger  *zap.Logger
}

func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, sub: events.Subscribe(), logger: s.logger.With(zap.String("remote", r.RemoteAddr))}
	defer func() {
		events.Unsubscribe(c.sub)
		conn.Close()
	}()

	closed := c.watchClose()
	if err := c.replay(); err != nil {
		return
	}
	c.stream(closed)
}

// watchClose consumes inbound frames so pongs and close frames are processed.
// The returned channel closes when the peer goes away.
func (c *wsClient) watchClose() <-chan struct{} {
	done := make(chan struct{})
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func (c *wsClient) replay() error {
	for _, e := range events.RecentEvents(backlogSize) {
		if err := c.send(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsClient) stream(closed <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-c.sub:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if e.Seq <= c.lastSeq {
				continue
			}
			if err := c.send(e); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) send(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("ws marshal failed", zap.String("event", e.Name), zap.Error(err))
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("ws write failed", zap.Error(err))
		return err
	}
	c.lastSeq = e.Seq
	return nil
}
