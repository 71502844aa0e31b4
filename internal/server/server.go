package server

import (
	"context"
	"log"
	"sync"

	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/stats"
)

const (
	StatActiveConnections = "ActiveConnections"
	StatActiveRooms       = "ActiveRooms"
	StatActiveCalls       = "ActiveCalls"
	StatMessagesRelayed   = "MessagesRelayed"
	StatCallsStarted      = "CallsStarted"
	StatDroppedMessages   = "DroppedMessages"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
	done    chan struct{}
}

type roomNotification struct {
	roomId string
	msg    *ServerMessage
}

// ChatServer owns the set of live connections and the per-room goroutines.
// All room lifecycle changes go through its run loop, so rooms are loaded and
// unloaded from exactly one place.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	notifyChan     chan roomNotification
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		notifyChan:     make(chan roomNotification, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, name := range []string{
		StatActiveConnections,
		StatActiveRooms,
		StatActiveCalls,
		StatMessagesRelayed,
		StatCallsStarted,
		StatDroppedMessages,
	} {
		sp.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Username)
			cs.removeClient(client)
		case req := <-cs.unloadRoomChan:
			cs.handleUnloadRoom(req)
		case n := <-cs.notifyChan:
			if room, ok := cs.rooms[n.roomId]; ok {
				select {
				case room.serverMsgChan <- n.msg:
				default:
					cs.log.Printf("server message channel full on room %q", n.roomId)
				}
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				r.exit <- exitReq{}
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := newRoom(cs, dbRoom.Id, dbRoom.ExternalId)
	cs.rooms[room.externalId] = room
	cs.stats.Incr(StatActiveRooms)
	room.joinChan <- joinMsg

	go room.start()
}

func (cs *ChatServer) handleUnloadRoom(req unloadRoomRequest) {
	if r, ok := cs.rooms[req.roomId]; ok {
		cs.log.Printf("unloading room %q", req.roomId)
		delete(cs.rooms, req.roomId)
		cs.stats.Decr(StatActiveRooms)

		r.exit <- exitReq{deleted: req.deleted}
		<-r.done
	}

	if req.done != nil {
		close(req.done)
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// UnloadRoom tears down the room's goroutine. When deleted is true the room's
// subscribers are sent a room_deleted notification first. The call returns
// once teardown has completed.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	done := make(chan struct{})
	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId, deleted: deleted, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyRoom delivers a server message to the room's current subscribers.
// Delivery is best effort: if the room is not loaded there is nobody
// connected to hear it, and a full channel drops the notification.
func (cs *ChatServer) NotifyRoom(roomId string, msg *ServerMessage) {
	select {
	case cs.notifyChan <- roomNotification{roomId: roomId, msg: msg}:
	default:
		cs.log.Printf("notify channel full, dropping notification for room %q", roomId)
		cs.stats.Incr(StatDroppedMessages)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(StatActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(StatActiveConnections)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
