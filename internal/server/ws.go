package server

import (
	"encoding/json"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/toolq/toolq/internal/id"
	"github.com/toolq/toolq/internal/observability"
)

// WebSocket message types from client.
const (
	wsMsgParse      = "parse"
	wsMsgList       = "list"
	wsMsgApprove    = "approve"
	wsMsgApproveAll = "approve_all"
)

// WebSocket message types to client.
const (
	wsMsgQueued = "queued"
	wsMsgQueue  = "queue"
	wsMsgResult = "result"
	wsMsgBulk   = "bulk"
	wsMsgError  = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsParseRequest is the payload for "parse" messages.
type wsParseRequest struct {
	Text string `json:"text"`
}

// wsApproveRequest is the payload for "approve" messages.
type wsApproveRequest struct {
	ID string `json:"id"`
}

// wsSession is one connected client. Writes are serialized; queue
// broadcasts race with request replies otherwise.
type wsSession struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (ws *wsSession) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.WriteJSON(wsMessage{Type: msgType, Data: raw})
}

func (ws *wsSession) sendError(message string) {
	ws.send(wsMsgError, map[string]string{"message": message})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}

	session := &wsSession{id: id.NewSessionID(), conn: conn}
	s.addSession(session)
	defer func() {
		s.removeSession(session.id)
		_ = conn.Close()
	}()

	// One span per connection, not per message; the approval spans hang off
	// the request context underneath it.
	_, span := s.startSpan(c, observability.SpanWebSocket,
		attribute.String("toolq.session_id", session.id))
	defer span.End()

	s.logger.Info("websocket session %s connected", session.id)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read: %v", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgParse:
			s.handleWSParse(c, session, msg.Data)
		case wsMsgList:
			s.sendQueueState(session, wsMsgQueue)
		case wsMsgApprove:
			s.handleWSApprove(c, session, msg.Data)
		case wsMsgApproveAll:
			s.handleWSApproveAll(c, session)
		default:
			session.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (s *Server) handleWSParse(c *gin.Context, session *wsSession, data json.RawMessage) {
	var req wsParseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		session.sendError("invalid parse data")
		return
	}

	acts, err := s.ctrl.Submit(c.Request.Context(), req.Text)
	if err != nil {
		session.sendError(err.Error())
		return
	}

	session.send(wsMsgQueued, gin.H{"actions": acts, "count": len(acts)})
	s.broadcastQueue()
}

func (s *Server) handleWSApprove(c *gin.Context, session *wsSession, data json.RawMessage) {
	var req wsApproveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		session.sendError("invalid approve data")
		return
	}

	res, err := s.ctrl.ApproveOne(c.Request.Context(), req.ID)
	if err != nil && res == nil {
		session.sendError(err.Error())
		return
	}

	session.send(wsMsgResult, gin.H{"result": res, "error": errString(err)})
	s.broadcastQueue()
}

func (s *Server) handleWSApproveAll(c *gin.Context, session *wsSession) {
	report, err := s.ctrl.ApproveAll(c.Request.Context())
	if err != nil {
		session.sendError(err.Error())
		return
	}

	session.send(wsMsgBulk, gin.H{"report": report, "summary": report.Summary()})
	s.broadcastQueue()
}

func (s *Server) sendQueueState(session *wsSession, msgType string) {
	acts := s.ctrl.List()
	session.send(msgType, gin.H{
		"actions":        acts,
		"count":          len(acts),
		"has_approvable": s.ctrl.HasApprovable(),
	})
}

// broadcastQueue pushes the queue state to every connected session after a
// mutation, regardless of which surface caused it.
func (s *Server) broadcastQueue() {
	s.mu.RLock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		s.sendQueueState(session, wsMsgQueue)
	}
}

func (s *Server) addSession(session *wsSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.id] = session
}

func (s *Server) removeSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		_ = session.conn.Close()
	}
	s.sessions = make(map[string]*wsSession)
}
