package server

import (
	"log"
	"sync"
	"time"

	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	deleted bool
}

// Room is the in-memory fan-out hub for a single chat room. One goroutine per
// loaded room owns all of its state: the subscriber set, the typing relay and
// the call state machine. Rooms are loaded on the first join_room and unload
// after sitting idle with no connected subscribers.
type Room struct {
	id            int
	externalId    string
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *Client
	clientMsgChan chan *ClientMessage
	serverMsgChan chan *ServerMessage
	clients       map[*Client]struct{}
	userMap       map[int]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger

	call callSession

	// killTimer unloads the room once no subscribers remain
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(cs *ChatServer, id int, externalId string) *Room {
	return &Room{
		id:            id,
		externalId:    externalId,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *Client, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		serverMsgChan: make(chan *ServerMessage, 256),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case client := <-r.leaveChan:
			r.handleLeave(client)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case smsg := <-r.serverMsgChan:
			r.broadcast(smsg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	switch {
	case msg.Publish != nil:
		r.relayMessage(msg)
	case msg.Typing != nil:
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				UserTyping: &UserTyping{
					RoomId:   r.externalId,
					Username: msg.client.user.Username,
				},
			},
			SkipClient: msg.client,
		})
	case msg.StopTyping != nil:
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				UserStopped: &UserStopped{RoomId: r.externalId},
			},
			SkipClient: msg.client,
		})
	case msg.StartCall != nil:
		r.handleStartCall(msg)
	case msg.AcceptCall != nil:
		r.handleAcceptCall(msg)
	case msg.EndCall != nil:
		r.handleEndCall(msg)
	}
}

// relayMessage fans a chat message out to every subscriber, the sender
// included: the durable copy was written by the REST layer, and the echo is
// what tells the sending client its message is live.
func (r *Room) relayMessage(msg *ClientMessage) {
	m := *msg.Publish
	m.RoomId = r.externalId
	m.SenderId = msg.GetUserId()
	if m.Sender == "" && msg.client != nil {
		m.Sender = msg.client.user.Username
	}

	msg.client.queueMessage(NoErrAccepted(msg.Id))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: msg.Timestamp,
		},
		Message: &m,
	})

	r.cs.stats.Incr(StatMessagesRelayed)
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// try again later
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	// a call dies with its room
	if r.call.state != callIdle {
		r.cs.stats.Decr(StatActiveCalls)
	}

	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.externalId},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientLock.Unlock()

	close(r.done)
}

// handleJoin subscribes the connection to this room. Private and direct
// message rooms only accept their members; membership in public rooms is
// handled at the REST layer. Every accepted join persists and announces a
// system message to the other subscribers, including re-joins: clients
// re-announce on every explicit join_room and that chattiness is kept for
// compatibility.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client

	dbRoom, err := r.cs.db.GetRoomWithMembers(r.id)
	if err != nil {
		r.log.Println("GetRoomWithMembers:", err)
		c.queueMessage(ErrInternalError(join.Id))
		r.armKillTimerIfIdle()
		return
	}

	if (dbRoom.IsPrivate || dbRoom.IsDirectMessage) && !canSubscribe(dbRoom, c.user.Id) {
		r.log.Printf("refusing %q access to private room %q", c.user.Username, r.externalId)
		c.queueMessage(ErrForbidden(join.Id))
		r.armKillTimerIfIdle()
		return
	}

	sysMsg, err := r.cs.db.CreateMessage(database.Message{
		RoomId:   r.id,
		Type:     types.MessageTypeText,
		Content:  c.user.Username + " has joined the room",
		IsSystem: true,
	})
	if err != nil {
		// the durable record is authoritative, but a failed announcement
		// should not block the subscription
		r.log.Println("create system message:", err)
	}

	r.addClient(c)

	members := make([]types.Member, len(dbRoom.Members))
	for i, m := range dbRoom.Members {
		members[i] = types.Member{
			User:     types.User{Id: m.AccountId, Username: m.Username},
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		}
	}

	c.queueMessage(NoErrOK(join.Id, types.Room{
		Id:              dbRoom.Id,
		ExternalId:      dbRoom.ExternalId,
		Name:            dbRoom.Name,
		OwnerId:         dbRoom.OwnerId,
		IsPrivate:       dbRoom.IsPrivate,
		IsDirectMessage: dbRoom.IsDirectMessage,
		ShowHistory:     dbRoom.ShowHistory,
		Members:         members,
		CreatedAt:       dbRoom.CreatedAt,
		UpdatedAt:       dbRoom.UpdatedAt,
	}))

	if sysMsg.Id != 0 {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: sysMsg.CreatedAt,
			},
			Message: &types.Message{
				Id:        sysMsg.Id,
				RoomId:    r.externalId,
				Type:      sysMsg.Type,
				Content:   sysMsg.Content,
				IsSystem:  true,
				CreatedAt: sysMsg.CreatedAt,
			},
			SkipClient: c,
		})
	}
}

func canSubscribe(room *database.Room, userId int) bool {
	if room.OwnerId == userId {
		return true
	}

	for _, m := range room.Members {
		if m.AccountId == userId {
			return true
		}
	}

	return false
}

// armKillTimerIfIdle restarts the unload countdown after a refused join: the
// timer was stopped on entry and an empty room must still unload eventually.
func (r *Room) armKillTimerIfIdle() {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleLeave(c *Client) {
	r.removeClient(c)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Username, r.externalId)
	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}

	return c, true
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		// queueMessage accounts for drops on a full send buffer
		client.queueMessage(msg)
	}
}
