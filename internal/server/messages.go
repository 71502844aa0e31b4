package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pujitha-mule/realtime-chat-app/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every client-to-server frame. Exactly one
// of the event fields is set.
type ClientMessage struct {
	BaseMessage
	Join       *JoinRoom      `json:"join_room,omitempty"`
	Publish    *types.Message `json:"send_message,omitempty"`
	Typing     *Typing        `json:"typing,omitempty"`
	StopTyping *StopTyping    `json:"stop_typing,omitempty"`
	StartCall  *StartCall     `json:"start_call,omitempty"`
	AcceptCall *AcceptCall    `json:"accept_call,omitempty"`
	EndCall    *EndCall       `json:"end_call,omitempty"`
	UserId     int            `json:"-"`
	client     *Client        `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}

	if cm.client != nil {
		return cm.client.user.Id
	}

	return 0
}

type JoinRoom struct {
	RoomId   string `json:"room_id"`
	Username string `json:"username"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	Username string `json:"username"`
}

// StopTyping accepts either {"room_id": "..."} or a bare room id string,
// matching what clients historically send.
type StopTyping struct {
	RoomId string `json:"room_id"`
}

func (st *StopTyping) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &st.RoomId)
	}

	type alias StopTyping
	var a alias
	if err := json.Unmarshal(bytes.TrimSpace(data), &a); err != nil {
		return err
	}
	*st = StopTyping(a)
	return nil
}

type StartCall struct {
	RoomId     string `json:"room_id"`
	CallerId   int    `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	Type       string `json:"type"`
}

type AcceptCall struct {
	RoomId string `json:"room_id"`
}

type EndCall struct {
	RoomId string `json:"room_id"`
}

// ServerMessage is the envelope for every server-to-client frame: a response
// to a client request, a delivered chat message, or an ephemeral
// notification.
type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"receive_message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	RoomDeleted  *RoomDeleted  `json:"room_deleted,omitempty"`
	UserTyping   *UserTyping   `json:"user_typing,omitempty"`
	UserStopped  *UserStopped  `json:"user_stopped,omitempty"`
	IncomingCall *IncomingCall `json:"incoming_call,omitempty"`
	CallAccepted *CallAccepted `json:"call_accepted,omitempty"`
	CallEnded    *CallEnded    `json:"call_ended,omitempty"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type UserTyping struct {
	RoomId   string `json:"room_id"`
	Username string `json:"username"`
}

type UserStopped struct {
	RoomId string `json:"room_id"`
}

type IncomingCall struct {
	RoomId     string `json:"room_id"`
	CallerId   int    `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	Type       string `json:"type"`
}

type CallAccepted struct {
	RoomId string `json:"room_id"`
}

type CallEnded struct {
	RoomId string `json:"room_id"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrForbidden(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "forbidden",
		},
	}
}

func ErrCallInProgress(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "call already in progress",
		},
	}
}

func ErrNoActiveCall(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "no call in progress",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
