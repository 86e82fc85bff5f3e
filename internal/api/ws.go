package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/21Micheal/netsec/internal/eventbus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is what a connected viewer sends: subscribe to a job's
// events, drop a subscription, or an application-level ping.
type clientMessage struct {
	Action string `json:"action"`
	JobID  string `json:"job_id,omitempty"`
}

// wsSession is one viewer connection. All socket writes happen on the
// writer goroutine; the reader replies through the out channel.
type wsSession struct {
	conn *websocket.Conn
	sub  *eventbus.Subscriber
	out  chan eventbus.Event
	done chan struct{}
}

// reply queues a direct response without blocking the reader.
func (sess *wsSession) reply(event eventbus.Event) {
	select {
	case sess.out <- event:
	default:
	}
}

// handleWebSocket upgrades the connection and bridges it to the event
// bus. Each connection gets its own subscriber; its subscriptions die
// with the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := &wsSession{
		conn: conn,
		sub:  s.bus.Register(),
		out:  make(chan eventbus.Event, 8),
		done: make(chan struct{}),
	}
	s.metrics.IncrementCounter("ws_connections_opened", nil)
	s.logger.Debug("websocket connected", "remote", r.RemoteAddr)

	go s.wsWriter(sess)

	sess.reply(eventbus.Event{
		Type:      eventbus.EventConnected,
		Message:   "connected",
		Timestamp: time.Now().UTC(),
	})

	s.wsReader(r, sess)

	s.bus.Unregister(sess.sub)
	close(sess.done)
	conn.Close()
	s.metrics.IncrementCounter("ws_connections_closed", nil)
	s.logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

// wsReader consumes control messages until the connection drops.
func (s *Server) wsReader(r *http.Request, sess *wsSession) {
	conn := sess.conn
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msg.Action {
		case "subscribe":
			s.wsSubscribe(r, sess, msg.JobID)
		case "unsubscribe":
			if jobID, err := uuid.Parse(msg.JobID); err == nil {
				s.bus.Unsubscribe(sess.sub, jobID)
			}
		case "ping":
			sess.reply(eventbus.Event{
				Type:      eventbus.EventPong,
				Timestamp: time.Now().UTC(),
			})
		default:
			sess.reply(eventbus.Event{
				Type:      eventbus.EventError,
				Error:     "unknown action: " + msg.Action,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// wsSubscribe attaches the viewer to a job and immediately replays the
// job's current state, so a viewer that reconnects mid-scan does not
// wait for the next transition.
func (s *Server) wsSubscribe(r *http.Request, sess *wsSession, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		sess.reply(eventbus.Event{
			Type:      eventbus.EventError,
			Error:     "invalid job id",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		sess.reply(eventbus.Event{
			Type:      eventbus.EventError,
			JobID:     jobID,
			Error:     "unknown job",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	s.bus.Subscribe(sess.sub, jobID)
	s.metrics.IncrementCounter("ws_subscriptions", nil)
	sess.reply(eventbus.JobUpdate(job))
}

// wsWriter is the only goroutine that writes to the socket. It drains
// bus events and direct replies, and keeps the connection alive with
// protocol pings.
func (s *Server) wsWriter(sess *wsSession) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sess.sub.Events():
			if !ok {
				sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				sess.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if !s.wsSend(sess.conn, event) {
				return
			}
		case event := <-sess.out:
			if !s.wsSend(sess.conn, event) {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (s *Server) wsSend(conn *websocket.Conn, event eventbus.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(event); err != nil {
		s.metrics.IncrementCounter("ws_write_errors", nil)
		return false
	}
	return true
}
