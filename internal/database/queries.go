package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		err = ErrDuplicateEmail
	}

	return u, err
}

func (db *PgChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) ListAccounts(excludeId int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email FROM accounts WHERE id != $1 ORDER BY username",
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users = make([]User, 0)
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username, &u.EmailAddress); err != nil {
			return nil, err
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

const roomColumns = "id, external_id, COALESCE(name, ''), COALESCE(owner_id, 0), " +
	"is_private, is_direct, COALESCE(invite_code, ''), show_history, " +
	"COALESCE(last_message_id, 0), is_active, created_at, updated_at"

func scanRoom(row *sql.Row) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.OwnerId,
		&room.IsPrivate,
		&room.IsDirectMessage,
		&room.InviteCode,
		&room.ShowHistory,
		&room.LastMessageId,
		&room.IsActive,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

// CreateRoom inserts the room and the owner's admin membership in a single
// transaction. A collision on the invite code unique index is reported as
// ErrDuplicateInviteCode so the caller can draw a new code and retry.
func (db *PgChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var inviteCode any
	if params.InviteCode != "" {
		inviteCode = params.InviteCode
	}
	var name any
	if params.Name != "" {
		name = params.Name
	}

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO rooms (external_id, name, owner_id, is_private, is_direct, invite_code, show_history, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING "+roomColumns,
		params.ExternalId,
		name,
		params.OwnerId,
		params.IsPrivate,
		params.IsDirectMessage,
		inviteCode,
		params.ShowHistory,
		now,
	)

	room, err := scanRoom(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "rooms_invite_code_idx" {
			err = ErrDuplicateInviteCode
		}
		return Room{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO room_members (room_id, account_id, role, joined_at) VALUES ($1, $2, $3, $4)",
		room.Id,
		params.OwnerId,
		"admin",
		now,
	)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE external_id = $1 AND is_active LIMIT 1",
		externalId,
	)

	return scanRoom(row)
}

func (db *PgChatRepository) GetRoomByInviteCode(code string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE invite_code = $1 AND is_active LIMIT 1",
		code,
	)

	return scanRoom(row)
}

func (db *PgChatRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	query := `
		SELECT
				r.id,
				r.external_id,
				COALESCE(r.name, ''),
				COALESCE(r.owner_id, 0),
				r.is_private,
				r.is_direct,
				COALESCE(r.invite_code, ''),
				r.show_history,
				COALESCE(r.last_message_id, 0),
				r.is_active,
				r.created_at,
				r.updated_at,
				m.id,
				m.account_id,
				a.username,
				m.role,
				m.joined_at
		FROM rooms r
		LEFT JOIN room_members m ON r.id = m.room_id
		LEFT JOIN accounts a ON m.account_id = a.id
		WHERE r.id = $1
		ORDER BY m.joined_at, m.id;
`

	rows, err := db.conn.Query(query, roomId)
	if err != nil {
		return nil, fmt.Errorf("fetch room with members: %w", err)
	}
	defer rows.Close()

	var room *Room
	for rows.Next() {
		var (
			r        Room
			memberId sql.NullInt64
			acctId   sql.NullInt64
			username sql.NullString
			role     sql.NullString
			joinedAt sql.NullTime
		)

		err := rows.Scan(
			&r.Id,
			&r.ExternalId,
			&r.Name,
			&r.OwnerId,
			&r.IsPrivate,
			&r.IsDirectMessage,
			&r.InviteCode,
			&r.ShowHistory,
			&r.LastMessageId,
			&r.IsActive,
			&r.CreatedAt,
			&r.UpdatedAt,
			&memberId,
			&acctId,
			&username,
			&role,
			&joinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if room == nil {
			r.Members = make([]Member, 0)
			room = &r
		}

		if acctId.Valid && username.Valid {
			room.Members = append(room.Members, Member{
				Id:        int(memberId.Int64),
				RoomId:    room.Id,
				AccountId: int(acctId.Int64),
				Username:  username.String,
				Role:      role.String,
				JoinedAt:  joinedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if room == nil {
		return nil, sql.ErrNoRows
	}

	return room, nil
}

// ListAccessibleRooms returns the rooms visible to the account: public rooms
// plus any room the account holds a membership in. Each room carries its
// membership list and, when one exists, its most recent message.
func (db *PgChatRepository) ListAccessibleRooms(accountId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, COALESCE(r.name, ''), COALESCE(r.owner_id, 0), "+
			"r.is_private, r.is_direct, COALESCE(r.invite_code, ''), r.show_history, "+
			"COALESCE(r.last_message_id, 0), r.is_active, r.created_at, r.updated_at, "+
			"m.id, m.sender_id, a.username, m.type, m.content, m.file_url, m.file_name, "+
			"m.is_system, m.created_at "+
			"FROM rooms r "+
			"LEFT JOIN messages m ON m.id = r.last_message_id "+
			"LEFT JOIN accounts a ON a.id = m.sender_id "+
			"WHERE r.is_active AND ((NOT r.is_private AND NOT r.is_direct) "+
			"OR r.id IN (SELECT room_id FROM room_members WHERE account_id = $1)) "+
			"ORDER BY r.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		var msgId, senderId sql.NullInt64
		var senderName, msgType, content, fileUrl, fileName sql.NullString
		var isSystem sql.NullBool
		var msgCreatedAt sql.NullTime
		err = rows.Scan(
			&room.Id,
			&room.ExternalId,
			&room.Name,
			&room.OwnerId,
			&room.IsPrivate,
			&room.IsDirectMessage,
			&room.InviteCode,
			&room.ShowHistory,
			&room.LastMessageId,
			&room.IsActive,
			&room.CreatedAt,
			&room.UpdatedAt,
			&msgId,
			&senderId,
			&senderName,
			&msgType,
			&content,
			&fileUrl,
			&fileName,
			&isSystem,
			&msgCreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if msgId.Valid {
			room.LastMessage = &Message{
				Id:         msgId.Int64,
				RoomId:     room.Id,
				SenderId:   int(senderId.Int64),
				SenderName: senderName.String,
				Type:       msgType.String,
				Content:    content.String,
				FileUrl:    fileUrl.String,
				FileName:   fileName.String,
				IsSystem:   isSystem.Bool,
				CreatedAt:  msgCreatedAt.Time,
			}
		}

		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.attachMembers(rooms); err != nil {
		return nil, err
	}

	return rooms, nil
}

// attachMembers populates the Members slice of every given room with a single
// membership query.
func (db *PgChatRepository) attachMembers(rooms []Room) error {
	if len(rooms) == 0 {
		return nil
	}

	roomIds := make([]int64, len(rooms))
	byId := make(map[int]*Room, len(rooms))
	for i := range rooms {
		roomIds[i] = int64(rooms[i].Id)
		byId[rooms[i].Id] = &rooms[i]
	}

	rows, err := db.conn.Query(
		"SELECT rm.id, rm.room_id, rm.account_id, a.username, rm.role, rm.joined_at "+
			"FROM room_members rm "+
			"JOIN accounts a ON a.id = rm.account_id "+
			"WHERE rm.room_id = ANY($1) "+
			"ORDER BY rm.joined_at",
		pq.Array(roomIds),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		err = rows.Scan(&m.Id, &m.RoomId, &m.AccountId, &m.Username, &m.Role, &m.JoinedAt)
		if err != nil {
			return err
		}

		if room, ok := byId[m.RoomId]; ok {
			room.Members = append(room.Members, m)
		}
	}

	return rows.Err()
}

// GetOrCreateDirectRoom returns the DM room for the given user pair, creating
// it if absent. The dm_key unique index makes concurrent calls from both
// participants converge on a single room: the losing insert sees the conflict
// and re-selects the winner's row. The second return value reports whether a
// new room was created.
func (db *PgChatRepository) GetOrCreateDirectRoom(accountId, targetId int, externalId string) (Room, bool, error) {
	lo, hi := accountId, targetId
	if lo > hi {
		lo, hi = hi, lo
	}
	dmKey := fmt.Sprintf("%d:%d", lo, hi)

	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE dm_key = $1 LIMIT 1",
		dmKey,
	)
	room, err := scanRoom(row)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Room{}, false, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	row = tx.QueryRow(
		"INSERT INTO rooms (external_id, owner_id, is_private, is_direct, dm_key, show_history, created_at, updated_at) "+
			"VALUES ($1, $2, true, true, $3, true, $4, $4) "+
			"ON CONFLICT (dm_key) WHERE dm_key IS NOT NULL DO NOTHING RETURNING "+roomColumns,
		externalId,
		accountId,
		dmKey,
		now,
	)

	room, err = scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the race, the other participant created it
		tx.Rollback()
		row = db.conn.QueryRow(
			"SELECT "+roomColumns+" FROM rooms WHERE dm_key = $1 LIMIT 1",
			dmKey,
		)
		room, err = scanRoom(row)
		return room, false, err
	}
	if err != nil {
		return Room{}, false, err
	}

	for _, id := range []int{accountId, targetId} {
		_, err = tx.Exec(
			"INSERT INTO room_members (room_id, account_id, role, joined_at) VALUES ($1, $2, $3, $4)",
			room.Id,
			id,
			"admin",
			now,
		)
		if err != nil {
			return Room{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Room{}, false, err
	}

	return room, true, nil
}

func (db *PgChatRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM room_members WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// AddRoomMember appends the user to the room's membership if absent. The
// conditional insert is atomic, so two concurrent joins for the same user
// produce exactly one row; the loser gets ErrAlreadyMember.
func (db *PgChatRepository) AddRoomMember(roomId, accountId int, role string) (Member, error) {
	row := db.conn.QueryRow(
		"INSERT INTO room_members (room_id, account_id, role, joined_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (room_id, account_id) DO NOTHING RETURNING id, joined_at",
		roomId,
		accountId,
		role,
		time.Now().UTC(),
	)

	member := Member{
		RoomId:    roomId,
		AccountId: accountId,
		Role:      role,
	}
	err := row.Scan(&member.Id, &member.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrAlreadyMember
	}

	return member, err
}

func (db *PgChatRepository) GetMembership(roomId, accountId int) (Member, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, m.account_id, a.username, m.role, m.joined_at "+
			"FROM room_members m JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.room_id = $1 AND m.account_id = $2 LIMIT 1",
		roomId,
		accountId,
	)

	var member Member
	err := row.Scan(
		&member.Id,
		&member.RoomId,
		&member.AccountId,
		&member.Username,
		&member.Role,
		&member.JoinedAt,
	)

	return member, err
}

// CreateMessage appends the message to the room's log and advances the room's
// last-message pointer in the same transaction.
func (db *PgChatRepository) CreateMessage(msg Message) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var senderId any
	if !msg.IsSystem {
		senderId = msg.SenderId
	}

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO messages (room_id, sender_id, type, content, file_url, file_name, is_system, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at",
		msg.RoomId,
		senderId,
		msg.Type,
		msg.Content,
		msg.FileUrl,
		msg.FileName,
		msg.IsSystem,
		now,
	)

	err = row.Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE rooms SET last_message_id = $1, updated_at = $2 WHERE id = $3",
		msg.Id,
		now,
		msg.RoomId,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessageById(id int64) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, COALESCE(m.sender_id, 0), COALESCE(a.username, ''), "+
			"m.type, m.content, m.file_url, m.file_name, m.is_system, m.created_at "+
			"FROM messages m LEFT JOIN accounts a ON m.sender_id = a.id "+
			"WHERE m.id = $1 LIMIT 1",
		id,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.Type,
		&msg.Content,
		&msg.FileUrl,
		&msg.FileName,
		&msg.IsSystem,
		&msg.CreatedAt,
	)

	return msg, err
}

// ListMessages returns the room's log in ascending (created_at, id) order.
// Messages older than since are excluded; pass the zero time for the full
// history.
func (db *PgChatRepository) ListMessages(roomId int, since time.Time) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.room_id, COALESCE(m.sender_id, 0), COALESCE(a.username, ''), "+
			"m.type, m.content, m.file_url, m.file_name, m.is_system, m.created_at "+
			"FROM messages m LEFT JOIN accounts a ON m.sender_id = a.id "+
			"WHERE m.room_id = $1 AND m.created_at >= $2 "+
			"ORDER BY m.created_at, m.id",
		roomId,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		err = rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Type,
			&msg.Content,
			&msg.FileUrl,
			&msg.FileName,
			&msg.IsSystem,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// DeleteMessage removes the message and, when it was the room's last message,
// repoints last_message_id at the most recent remaining message in the same
// transaction so the pointer never goes stale.
func (db *PgChatRepository) DeleteMessage(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomId int
	var lastMessageId sql.NullInt64
	err = tx.QueryRow(
		"SELECT m.room_id, r.last_message_id FROM messages m "+
			"JOIN rooms r ON m.room_id = r.id WHERE m.id = $1 FOR UPDATE OF r",
		id,
	).Scan(&roomId, &lastMessageId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	if lastMessageId.Valid && lastMessageId.Int64 == id {
		_, err = tx.Exec(
			"UPDATE rooms SET last_message_id = ("+
				"SELECT id FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1"+
				") WHERE id = $1",
			roomId,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
