package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) ListAccounts(excludeId int) ([]User, error) {
	args := m.Called(excludeId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByInviteCode(code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListAccessibleRooms(accountId int) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) GetOrCreateDirectRoom(accountId, targetId int, externalId string) (Room, bool, error) {
	args := m.Called(accountId, targetId, externalId)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) AddRoomMember(roomId, accountId int, role string) (Member, error) {
	args := m.Called(roomId, accountId, role)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockChatRepository) GetMembership(roomId, accountId int) (Member, error) {
	args := m.Called(roomId, accountId)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessageById(id int64) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(roomId int, since time.Time) ([]Message, error) {
	args := m.Called(roomId, since)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(id int64) error {
	args := m.Called(id)
	return args.Error(0)
}
