package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"email-signer/flow"
	"email-signer/shared"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local tool, any origin may follow its own session
		return true
	},
}

// Message types sent to log followers
const (
	MsgTypeLog     = "log"
	MsgTypeOutcome = "outcome"
)

// WSMessage is one frame sent to a log follower
type WSMessage struct {
	Type      string                  `json:"type"`
	SessionID string                  `json:"session_id"`
	Line      string                  `json:"line,omitempty"`
	Outcome   *shared.ApprovalOutcome `json:"outcome,omitempty"`
	Timestamp int64                   `json:"timestamp"`
}

// sessionLogsHandler replays the session log, then streams new entries until the
// flow finishes (followed by an outcome frame) or the session is closed
func (s *Server) sessionLogsHandler(c *gin.Context) {
	session, err := s.sessions.GetSession(c.Param("id"))
	if err != nil {
		renderError("session not found", http.StatusNotFound, c)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	follower := &logFollower{
		conn:    conn,
		session: session,
		logger:  s.logger.WithSession(session.ID),
		closed:  make(chan struct{}),
	}
	go follower.readPump()
	follower.writePump()
}

type logFollower struct {
	conn    *websocket.Conn
	session *flow.Session
	logger  *zap.Logger
	closed  chan struct{}
}

// readPump discards client frames and notices when the client goes away
func (f *logFollower) readPump() {
	defer close(f.closed)

	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (f *logFollower) writePump() {
	steps := f.session.Steps().Follow()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		steps.Stop()
		f.conn.Close()
	}()

	done := f.session.Done()
	for {
		select {
		case _, ok := <-steps.Notify():
			if !f.flush(steps) {
				return
			}
			if !ok {
				f.finish()
				return
			}
		case <-done:
			if f.flush(steps) {
				f.finish()
			}
			return
		case <-f.closed:
			return
		case <-ticker.C:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush sends every entry the client has not seen yet
func (f *logFollower) flush(steps *shared.Follower) bool {
	for _, line := range steps.Next() {
		if !f.send(WSMessage{Type: MsgTypeLog, Line: line}) {
			return false
		}
	}
	return true
}

// finish sends the outcome, if any, and a close frame
func (f *logFollower) finish() {
	if outcome, ok := f.session.Outcome(); ok {
		f.send(WSMessage{Type: MsgTypeOutcome, Outcome: &outcome})
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (f *logFollower) send(msg WSMessage) bool {
	msg.SessionID = f.session.ID
	msg.Timestamp = time.Now().Unix()
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := f.conn.WriteJSON(msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			f.logger.Debug("WebSocket write error", zap.Error(err))
		}
		return false
	}
	return true
}
