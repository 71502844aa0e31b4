package database

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyMember is returned by AddRoomMember when the membership row
	// already exists. The conditional insert makes duplicate entries
	// impossible under concurrent joins.
	ErrAlreadyMember = errors.New("already a member")
	// ErrDuplicateInviteCode is returned by CreateRoom when the generated
	// invite code collides with an existing room.
	ErrDuplicateInviteCode = errors.New("invite code already in use")
	// ErrDuplicateEmail is returned by CreateAccount when the email address
	// is already registered.
	ErrDuplicateEmail = errors.New("email address already registered")
)

type ChatRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(id int) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListAccounts(excludeId int) ([]User, error)

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomByInviteCode(code string) (Room, error)
	GetRoomWithMembers(roomId int) (*Room, error)
	ListAccessibleRooms(accountId int) ([]Room, error)
	GetOrCreateDirectRoom(accountId, targetId int, externalId string) (Room, bool, error)
	DeleteRoom(id int) error

	AddRoomMember(roomId, accountId int, role string) (Member, error)
	GetMembership(roomId, accountId int) (Member, error)

	CreateMessage(msg Message) (Message, error)
	GetMessageById(id int64) (Message, error)
	ListMessages(roomId int, since time.Time) ([]Message, error)
	DeleteMessage(id int64) error
}
