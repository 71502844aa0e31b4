package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/stats"
	"github.com/pujitha-mule/realtime-chat-app/internal/testutil"
	"github.com/pujitha-mule/realtime-chat-app/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestChatServer creates a ChatServer wired to mocks for testing
func newTestChatServer(t *testing.T, db database.ChatRepository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Times(6)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Times(6)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, cs.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, cs.notifyChan, "expected notifyChan to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
}

func Test_handleJoin(t *testing.T) {
	t.Run("loads room from database on first join", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", StatActiveRooms).Once()

		cs := newTestChatServer(t, db, su)

		db.On("GetRoomByExternalId", "room-1").Return(database.Room{
			Id:         1,
			ExternalId: "room-1",
		}, nil).Once()
		// the room goroutine loads members and persists the join announcement
		db.On("GetRoomWithMembers", 1).Return(&database.Room{Id: 1, ExternalId: "room-1"}, nil).Once()
		db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 1, CreatedAt: Now()}, nil).Once()

		c := &Client{
			user:  types.User{Id: 1, Username: "testuser"},
			send:  make(chan *ServerMessage, 256),
			rooms: make(map[string]*Room),
		}

		cs.handleJoin(&ClientMessage{
			Join:   &JoinRoom{RoomId: "room-1"},
			client: c,
		})

		room, ok := cs.rooms["room-1"]
		assert.True(t, ok, "expected room to be loaded")
		assert.Equal(t, "room-1", room.externalId, "expected room external id to match")

		// the joiner gets the room info response once the goroutine handles the join
		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected a response message")
			assert.Equal(t, 200, msg.Response.ResponseCode, "expected 200 response code")
		case <-time.After(time.Second):
			t.Error("timeout: client did not receive join response")
		}

		room.exit <- exitReq{}
		<-room.done
	})

	t.Run("responds with room not found for unknown room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

		db.On("GetRoomByExternalId", "missing").Return(database.Room{}, sql.ErrNoRows).Once()

		c := &Client{
			user:  types.User{Id: 1, Username: "testuser"},
			send:  make(chan *ServerMessage, 1),
			rooms: make(map[string]*Room),
		}

		cs.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 7},
			Join:        &JoinRoom{RoomId: "missing"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected a response message")
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected 404 response code")
			assert.Equal(t, 7, msg.Id, "expected response id to match request id")
		default:
			t.Error("expected client to receive room not found response")
		}

		assert.Empty(t, cs.rooms, "expected no room to be loaded")
	})

	t.Run("routes join to already loaded room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})

		room := newRoom(cs, 1, "room-1")
		cs.rooms["room-1"] = room

		joinMsg := &ClientMessage{Join: &JoinRoom{RoomId: "room-1"}}
		cs.handleJoin(joinMsg)

		select {
		case msg := <-room.joinChan:
			assert.Equal(t, joinMsg, msg, "expected join message to be forwarded to room")
		default:
			t.Error("expected join message on room's join channel")
		}
	})
}

func Test_handleUnloadRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", StatActiveRooms).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockChatRepository{}, su)

	room := newRoom(cs, 1, "room-1")
	cs.rooms["room-1"] = room
	go func() {
		<-room.exit
		close(room.done)
	}()

	done := make(chan struct{})
	cs.handleUnloadRoom(unloadRoomRequest{roomId: "room-1", done: done})

	assert.NotContains(t, cs.rooms, "room-1", "expected room to be removed")
	select {
	case <-done:
	default:
		t.Error("expected done channel to be closed")
	}
}

func TestUnloadRoom(t *testing.T) {
	t.Run("returns once unload completes", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", StatActiveRooms).Once()

		cs := newTestChatServer(t, &database.MockChatRepository{}, su)
		go cs.Run()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			cs.Shutdown(ctx)
		}()

		room := newRoom(cs, 1, "room-1")
		cs.rooms["room-1"] = room
		go func() {
			<-room.exit
			close(room.done)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := cs.UnloadRoom(ctx, "room-1", false)
		assert.NoError(t, err, "expected unload to succeed")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		// fill the channel so the request cannot be submitted
		for i := 0; i < cap(cs.unloadRoomChan); i++ {
			cs.unloadRoomChan <- unloadRoomRequest{}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.UnloadRoom(ctx, "room-1", false)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded")
	})
}

func TestNotifyRoom(t *testing.T) {
	t.Run("queues notification", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})

		msg := &ServerMessage{Message: &types.Message{Content: "hello"}}
		cs.NotifyRoom("room-1", msg)

		select {
		case n := <-cs.notifyChan:
			assert.Equal(t, "room-1", n.roomId, "expected room id to match")
			assert.Equal(t, msg, n.msg, "expected message to match")
		default:
			t.Error("expected notification on notify channel")
		}
	})

	t.Run("drops notification when channel is full", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", StatDroppedMessages).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockChatRepository{}, su)
		for i := 0; i < cap(cs.notifyChan); i++ {
			cs.notifyChan <- roomNotification{}
		}

		cs.NotifyRoom("room-1", &ServerMessage{})
	})
}

func Test_addClient_removeClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", StatActiveConnections).Once()
	su.On("Decr", StatActiveConnections).Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockChatRepository{}, su)

	c := &Client{user: types.User{Id: 1}}
	cs.addClient(c)
	assert.Contains(t, cs.clients, c, "expected clients to contain client")

	cs.removeClient(c)
	assert.NotContains(t, cs.clients, c, "expected clients to not contain client after removal")

	// removing an unknown client is a no-op
	cs.removeClient(c)
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown with active rooms", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		cs := newTestChatServer(t, &database.MockChatRepository{}, su)
		go cs.Run()

		room := newRoom(cs, 1, "room-1")
		cs.rooms["room-1"] = room
		go func() {
			<-room.exit
			close(room.done)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		// Run loop is not started, so done is never closed

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded")
	})
}
