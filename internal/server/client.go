package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-supportchat/internal/router"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	requestTimeout = 15 * time.Second
	// Inline images arrive as data URLs, so frames can be large.
	maxMessageSize = 8 << 20
	sendQueueSize  = 256
)

// RoomRouter is the message pipeline as seen by a socket connection.
type RoomRouter interface {
	Submit(ctx context.Context, c router.Candidate) (types.Message, error)
	Join(ctx context.Context, userId, displayName string) (types.RoomHistory, error)
	AdminJoin(ctx context.Context) ([]types.Room, error)
	ViewRoom(ctx context.Context, roomId string) (types.RoomHistory, error)
	ToggleLock(ctx context.Context, roomId string, locked bool) error
	DeleteMessage(ctx context.Context, messageId, roomId string) error
	DeleteConversation(ctx context.Context, roomId string) error
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	router     RoomRouter
	log        *zap.Logger
	stats      stats.StatsProvider
	// admin is set when the connection presented a valid admin token.
	admin    *types.AdminIdentity
	userId   string
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(admin *types.AdminIdentity, conn *websocket.Conn, cs *ChatServer, rr RoomRouter, l *zap.Logger, sp stats.StatsProvider) *Client {
	if sp == nil {
		sp = stats.Discard
	}
	id := uuid.NewString()

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		router:     rr,
		log:        l.With(zap.String("conn_id", id)),
		stats:      sp,
		admin:      admin,
		send:       make(chan *ServerMessage, sendQueueSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read failed", zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("error parsing message", zap.Error(err))
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		msg.client = c
		msg.Timestamp = Now()

		c.queueMessage(c.handle(&msg))
	}
}

// handle dispatches one inbound event to the router and returns its
// acknowledgment. Follow-up events are queued directly on the client.
func (c *Client) handle(msg *ClientMessage) *ServerMessage {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp := c.dispatch(ctx, msg)
	c.stats.EventHandled(msg.Event, resp.Response.ResponseCode, time.Since(start))

	return resp
}

func (c *Client) dispatch(ctx context.Context, msg *ClientMessage) *ServerMessage {
	switch msg.Event {
	case EventUserJoin:
		return c.userJoin(ctx, msg)
	case EventAdminJoin:
		return c.adminJoin(ctx, msg)
	case EventAdminViewRoom:
		return c.viewRoom(ctx, msg)
	case EventSendMessage:
		return c.sendChatMessage(ctx, msg)
	case EventToggleLock:
		return c.toggleLock(ctx, msg)
	case EventDeleteMessage:
		return c.deleteMessage(ctx, msg)
	case EventDeleteConversation:
		return c.deleteConversation(ctx, msg)
	default:
		return ErrUnknownEvent(msg.Id, msg.Event)
	}
}

func decode[T any](msg *ClientMessage) (T, bool) {
	var v T
	if len(msg.Data) == 0 {
		return v, false
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, false
	}
	return v, true
}

func (c *Client) userJoin(ctx context.Context, msg *ClientMessage) *ServerMessage {
	p, ok := decode[UserJoin](msg)
	if !ok || p.UserId == "" {
		return ErrInvalidMessage(msg.Id)
	}

	if p.UserId == types.AdminRoomId {
		return ErrForbidden(msg.Id)
	}

	c.chatServer.subscribe(c, p.UserId)
	history, err := c.router.Join(ctx, p.UserId, p.DisplayName)
	if err != nil {
		return c.fail(msg, err)
	}
	c.userId = p.UserId

	c.queueMessage(EventMessage(types.Event{Name: types.EventRoomHistory, Data: history}))
	return NoErrOK(msg.Id, nil)
}

func (c *Client) adminJoin(ctx context.Context, msg *ClientMessage) *ServerMessage {
	if c.admin == nil {
		return ErrForbidden(msg.Id)
	}

	c.chatServer.adminJoin(c)
	rooms, err := c.router.AdminJoin(ctx)
	if err != nil {
		return c.fail(msg, err)
	}

	c.queueMessage(EventMessage(types.Event{Name: types.EventChatList, Data: rooms}))
	return NoErrOK(msg.Id, nil)
}

func (c *Client) viewRoom(ctx context.Context, msg *ClientMessage) *ServerMessage {
	if c.admin == nil {
		return ErrForbidden(msg.Id)
	}
	p, ok := decode[ViewRoom](msg)
	if !ok || p.RoomId == "" {
		return ErrInvalidMessage(msg.Id)
	}

	c.chatServer.subscribe(c, p.RoomId)
	history, err := c.router.ViewRoom(ctx, p.RoomId)
	if err != nil {
		return c.fail(msg, err)
	}

	c.queueMessage(EventMessage(types.Event{Name: types.EventRoomHistory, Data: history}))
	return NoErrOK(msg.Id, nil)
}

func (c *Client) sendChatMessage(ctx context.Context, msg *ClientMessage) *ServerMessage {
	p, ok := decode[SendMessage](msg)
	if !ok {
		return ErrInvalidMessage(msg.Id)
	}
	if p.IsAdmin && c.admin == nil {
		return ErrForbidden(msg.Id)
	}

	candidate := router.Candidate{
		RoomId:      p.RoomId,
		SenderId:    p.SenderId,
		DisplayName: p.DisplayName,
		Text:        p.Text,
		Image:       p.Image,
		IsAdmin:     p.IsAdmin,
	}
	if p.IsAdmin {
		candidate.SenderId = c.admin.Email
		if candidate.DisplayName == "" {
			candidate.DisplayName = c.admin.DisplayName
		}
	} else if candidate.SenderId == "" {
		candidate.SenderId = c.userId
	}

	saved, err := c.router.Submit(ctx, candidate)
	if err != nil {
		return c.fail(msg, err)
	}

	return NoErrOK(msg.Id, saved)
}

func (c *Client) toggleLock(ctx context.Context, msg *ClientMessage) *ServerMessage {
	if c.admin == nil {
		return ErrForbidden(msg.Id)
	}
	p, ok := decode[ToggleLock](msg)
	if !ok {
		return ErrInvalidMessage(msg.Id)
	}

	if err := c.router.ToggleLock(ctx, p.RoomId, p.IsLocked); err != nil {
		return c.fail(msg, err)
	}
	return NoErrOK(msg.Id, nil)
}

func (c *Client) deleteMessage(ctx context.Context, msg *ClientMessage) *ServerMessage {
	if c.admin == nil {
		return ErrForbidden(msg.Id)
	}
	p, ok := decode[DeleteMessage](msg)
	if !ok {
		return ErrInvalidMessage(msg.Id)
	}

	if err := c.router.DeleteMessage(ctx, p.MessageId, p.RoomId); err != nil {
		return c.fail(msg, err)
	}
	return NoErrOK(msg.Id, nil)
}

func (c *Client) deleteConversation(ctx context.Context, msg *ClientMessage) *ServerMessage {
	if c.admin == nil {
		return ErrForbidden(msg.Id)
	}
	p, ok := decode[DeleteConversation](msg)
	if !ok {
		return ErrInvalidMessage(msg.Id)
	}

	if err := c.router.DeleteConversation(ctx, p.RoomId); err != nil {
		return c.fail(msg, err)
	}
	return NoErrOK(msg.Id, nil)
}

// fail converts err into an acknowledgment. Server-side failures are also
// announced with an error event.
func (c *Client) fail(msg *ClientMessage, err error) *ServerMessage {
	resp := errorResponse(msg.Id, err)
	if resp.Response.ResponseCode >= 500 {
		c.log.Error("event failed", zap.String("event", msg.Event), zap.Error(err))
		c.queueMessage(EventMessage(types.Event{
			Name: types.EventError,
			Data: map[string]string{"message": resp.Response.Error},
		}))
	}
	return resp
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message failed", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.deregister(c)
	c.stopClient()
}
