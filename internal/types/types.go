package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Member is a user's entry in a room's membership list. JoinedAt is the
// watermark used to gate history visibility in rooms that hide pre-join
// messages from late joiners.
type Member struct {
	User     User      `json:"user"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Room struct {
	Id              int       `json:"id"`
	ExternalId      string    `json:"external_id"`
	Name            string    `json:"name,omitempty"`
	OwnerId         int       `json:"owner_id,omitempty"`
	IsPrivate       bool      `json:"is_private"`
	IsDirectMessage bool      `json:"is_direct_message"`
	InviteCode      string    `json:"invite_code,omitempty"`
	ShowHistory     bool      `json:"show_history_to_new_members"`
	Members         []Member  `json:"members,omitempty"`
	LastMessage     *Message  `json:"last_message,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

type Message struct {
	Id        int64     `json:"id"`
	RoomId    string    `json:"room_id"`
	SenderId  int       `json:"sender_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	FileUrl   string    `json:"file_url,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	IsSystem  bool      `json:"is_system,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
