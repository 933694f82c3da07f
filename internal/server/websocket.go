package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/presence"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size.
	maxMessageSize = 512 * 1024

	directBufferSize = 16

	intentCreateNote   = "createNote"
	intentUpdateNote   = "updateNote"
	intentDeleteNote   = "deleteNote"
	intentRegisterName = "registerName"

	messageInvalidFrame   = "invalid message"
	messageUnknownType    = "unknown message type"
	messagePersistFailure = "change could not be saved"

	messageNameEmpty          = "Name cannot be empty"
	messageNameTaken          = "Name already taken"
	messageRegistrationFailed = "registration failed"
)

type inboundFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type createNotePayload struct {
	Text      string `json:"text"`
	Author    string `json:"author"`
	CreatorID string `json:"creatorId"`
}

type updateNotePayload struct {
	ID          string              `json:"id"`
	Text        *string             `json:"text"`
	Width       *float64            `json:"width"`
	Height      *float64            `json:"height"`
	Attachments *[]notes.Attachment `json:"attachments"`
	Author      string              `json:"author"`
}

type deleteNotePayload struct {
	ID     string `json:"id"`
	Author string `json:"author"`
}

type registerNamePayload struct {
	Name string `json:"name"`
}

type registerNameResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// participantSession is one websocket connection to the board.
type participantSession struct {
	id      string
	conn    *websocket.Conn
	handler *httpHandler
	direct  chan Event
	logger  *zap.Logger
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", c.Request.RemoteAddr))
		return
	}

	connectionID := uuid.NewString()
	session := &participantSession{
		id:      connectionID,
		conn:    conn,
		handler: h,
		direct:  make(chan Event, directBufferSize),
		logger:  h.logger.With(zap.String("connection_id", connectionID)),
	}
	session.run(c.Request.Context())
}

func (s *participantSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	stream, unsubscribe := s.handler.hub.Subscribe(ctx, s.id)

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(Event{Type: EventConnected, Payload: connectedPayload{ConnectionID: s.id}}); err != nil {
		s.logger.Warn("failed to greet participant", zap.Error(err))
		cancel()
		unsubscribe()
		_ = s.conn.Close()
		return
	}
	s.reply(Event{Type: EventOnlineUsers, Payload: s.handler.presence.Names()})
	s.logger.Info("participant connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, stream)
	}()

	s.readPump(ctx)

	cancel()
	unsubscribe()
	<-writerDone
	if s.handler.presence.Remove(s.id) {
		s.handler.broadcastOnlineUsers()
	}
	s.logger.Info("participant disconnected")
}

// readPump handles inbound frames until the peer goes away.
func (s *participantSession) readPump(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.logger.Debug("ignoring non-text frame")
			continue
		}
		s.handleFrame(ctx, bytes.TrimSpace(message))
	}
}

// writePump is the only writer on the connection once it starts.
func (s *participantSession) writePump(ctx context.Context, stream <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseNormalClosure, "")
			return
		case event, ok := <-stream:
			if !ok {
				s.logger.Warn("participant fell behind; closing connection")
				s.writeClose(websocket.CloseTryAgainLater, "slow consumer")
				return
			}
			if !s.write(event) {
				return
			}
		case event := <-s.direct:
			if !s.write(event) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (s *participantSession) write(event Event) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(event); err != nil {
		s.logger.Debug("failed to write frame", zap.String("event", event.Type), zap.Error(err))
		return false
	}
	return true
}

func (s *participantSession) writeClose(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// reply queues an event for this connection only.
func (s *participantSession) reply(event Event) {
	select {
	case s.direct <- event:
	default:
		s.logger.Warn("direct reply dropped", zap.String("event", event.Type))
	}
}

func (s *participantSession) replyError(requestID, message string, err error) {
	payload := errorPayload{Message: message}
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		payload.Code = serviceErr.Code()
	}
	s.reply(Event{Type: EventError, RequestID: requestID, Payload: payload})
}

func (s *participantSession) handleFrame(ctx context.Context, message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.replyError("", messageInvalidFrame, nil)
		return
	}

	switch frame.Type {
	case intentCreateNote:
		var payload createNotePayload
		if !s.decode(frame, &payload) {
			return
		}
		creatorID := strings.TrimSpace(payload.CreatorID)
		if creatorID == "" {
			creatorID = s.id
		}
		result, err := s.handler.board.HandleCreate(ctx, notes.CreateIntent{
			Text:      payload.Text,
			Author:    s.author(payload.Author),
			CreatorID: creatorID,
		})
		s.finishIntent(frame, result, err)
	case intentUpdateNote:
		var payload updateNotePayload
		if !s.decode(frame, &payload) {
			return
		}
		result, err := s.handler.board.HandleUpdate(ctx, notes.UpdateIntent{
			ID: payload.ID,
			Patch: notes.Patch{
				Text:        payload.Text,
				Width:       payload.Width,
				Height:      payload.Height,
				Attachments: payload.Attachments,
			},
			Author: s.author(payload.Author),
		})
		s.finishIntent(frame, result, err)
	case intentDeleteNote:
		var payload deleteNotePayload
		if !s.decode(frame, &payload) {
			return
		}
		result, err := s.handler.board.HandleDelete(ctx, notes.DeleteIntent{
			ID:     payload.ID,
			Author: s.author(payload.Author),
		})
		s.finishIntent(frame, result, err)
	case intentRegisterName:
		var payload registerNamePayload
		if !s.decode(frame, &payload) {
			return
		}
		s.registerName(frame.RequestID, payload.Name)
	default:
		s.replyError(frame.RequestID, messageUnknownType, nil)
	}
}

func (s *participantSession) decode(frame inboundFrame, target any) bool {
	if len(frame.Payload) == 0 {
		s.replyError(frame.RequestID, messageInvalidFrame, nil)
		return false
	}
	if err := json.Unmarshal(frame.Payload, target); err != nil {
		s.replyError(frame.RequestID, messageInvalidFrame, nil)
		return false
	}
	return true
}

func (s *participantSession) finishIntent(frame inboundFrame, result notes.Result, err error) {
	if err != nil {
		s.handler.metrics.ObserveIntent(frame.Type, "error", nil)
		s.logger.Error("intent failed", zap.String("intent", frame.Type), zap.Error(err))
		s.replyError(frame.RequestID, messagePersistFailure, err)
		return
	}
	s.handler.metrics.ObserveIntent(frame.Type, string(result.Outcome), result.Entries)
}

func (s *participantSession) registerName(requestID, name string) {
	err := s.handler.presence.Register(s.id, name)
	if err != nil {
		s.reply(Event{Type: EventRegisterNameResult, RequestID: requestID, Payload: registerNameResult{Error: registrationMessage(err)}})
		return
	}
	s.reply(Event{Type: EventRegisterNameResult, RequestID: requestID, Payload: registerNameResult{Success: true}})
	s.handler.broadcastOnlineUsers()
}

// registrationMessage maps presence errors onto the text shown to participants.
func registrationMessage(err error) string {
	switch {
	case errors.Is(err, presence.ErrEmptyName):
		return messageNameEmpty
	case errors.Is(err, presence.ErrNameTaken):
		return messageNameTaken
	default:
		return messageRegistrationFailed
	}
}

// author falls back to the registered display name when the frame carries none.
func (s *participantSession) author(claimed string) string {
	if strings.TrimSpace(claimed) != "" {
		return claimed
	}
	if name, ok := s.handler.presence.Name(s.id); ok {
		return name
	}
	return ""
}
