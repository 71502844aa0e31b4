package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id              int
	ExternalId      string
	Name            string
	OwnerId         int
	IsPrivate       bool
	IsDirectMessage bool
	InviteCode      string
	ShowHistory     bool
	LastMessageId   int64
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Members         []Member
	LastMessage     *Message
}

type Member struct {
	Id        int
	RoomId    int
	AccountId int
	Username  string
	Role      string
	JoinedAt  time.Time
}

type Message struct {
	Id         int64
	RoomId     int
	SenderId   int
	SenderName string
	Type       string
	Content    string
	FileUrl    string
	FileName   string
	IsSystem   bool
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name            string
	ExternalId      string
	OwnerId         int
	IsPrivate       bool
	IsDirectMessage bool
	InviteCode      string
	ShowHistory     bool
}
