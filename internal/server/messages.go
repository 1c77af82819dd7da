package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-supportchat/internal/router"
	"github.com/npezzotti/go-supportchat/internal/types"
)

// Inbound event names.
const (
	EventAdminJoin          = "admin:join"
	EventUserJoin           = "user:join"
	EventAdminViewRoom      = "admin:viewRoom"
	EventSendMessage        = "sendMessage"
	EventToggleLock         = "admin:toggleLock"
	EventDeleteMessage      = "admin:deleteMessage"
	EventDeleteConversation = "admin:deleteConversation"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Data is decoded according to Event.
type ClientMessage struct {
	BaseMessage
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	client *Client         `json:"-"`
}

type UserJoin struct {
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type ViewRoom struct {
	RoomId string `json:"roomId"`
}

type SendMessage struct {
	RoomId      string `json:"roomId"`
	SenderId    string `json:"senderId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
	Image       string `json:"image,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
}

type ToggleLock struct {
	RoomId   string `json:"roomId"`
	IsLocked bool   `json:"isLocked"`
}

type DeleteMessage struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type DeleteConversation struct {
	RoomId string `json:"roomId"`
}

// ServerMessage is either an acknowledgment of a client message (Response
// set) or a pushed event (Event set).
type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    string    `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func EventMessage(ev types.Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       ev.Name,
		Data:        ev.Data,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Status:       statusSuccess,
			Data:         data,
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Status:       statusError,
			Error:        msg,
		},
	}
}

func ErrBadRequest(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, msg)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "Cuộc trò chuyện không tồn tại.")
}

func ErrMessageNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "message not found")
}

func ErrForbidden(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "forbidden")
}

func ErrRoomLocked(id int) *ServerMessage {
	return errResponse(id, http.StatusLocked, "Cuộc trò chuyện này đã bị khóa.")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrUnknownEvent(id int, event string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "unknown event "+event)
}

// errorResponse maps a router error onto an acknowledgment.
func errorResponse(id int, err error) *ServerMessage {
	var verr *router.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrBadRequest(id, verr.Error())
	case errors.Is(err, router.ErrRoomNotFound):
		return ErrRoomNotFound(id)
	case errors.Is(err, router.ErrMessageNotFound):
		return ErrMessageNotFound(id)
	case errors.Is(err, router.ErrForbidden):
		return ErrForbidden(id)
	case errors.Is(err, router.ErrRoomLocked):
		return ErrRoomLocked(id)
	default:
		return ErrInternalError(id)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
