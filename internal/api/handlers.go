package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/server"
	"github.com/pujitha-mule/realtime-chat-app/internal/types"
)

const (
	inviteCodeLength      = 6
	maxInviteCodeAttempts = 20
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	IsPrivate   bool   `json:"is_private"`
	ShowHistory *bool  `json:"show_history_to_new_members,omitempty"`
}

type JoinCodeRequest struct {
	Code string `json:"code"`
}

type DirectRoomRequest struct {
	TargetUserId int `json:"target_user_id"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     strings.TrimSpace(req.Username),
		EmailAddress: strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrDuplicateEmail) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(strings.ToLower(strings.TrimSpace(lr.Email)))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	})
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUsers, err := s.db.ListAccounts(userId)
	if err != nil {
		s.log.Println("list accounts:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, len(dbUsers))
	for i, u := range dbUsers {
		users[i] = types.User{
			Id:           u.Id,
			Username:     u.Username,
			EmailAddress: u.EmailAddress,
		}
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *ChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListAccessibleRooms(userId)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, roomResponse(&room, userId))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

// roomResponse converts a stored room to its wire form. The invite code is
// only revealed to the room's owner.
func roomResponse(room *database.Room, callerId int) types.Room {
	resp := types.Room{
		Id:              room.Id,
		ExternalId:      room.ExternalId,
		Name:            room.Name,
		OwnerId:         room.OwnerId,
		IsPrivate:       room.IsPrivate,
		IsDirectMessage: room.IsDirectMessage,
		ShowHistory:     room.ShowHistory,
		CreatedAt:       room.CreatedAt,
		UpdatedAt:       room.UpdatedAt,
	}

	if callerId == room.OwnerId {
		resp.InviteCode = room.InviteCode
	}

	for _, m := range room.Members {
		resp.Members = append(resp.Members, types.Member{
			User:     types.User{Id: m.AccountId, Username: m.Username},
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}

	if room.LastMessage != nil {
		lastMsg := messageResponse(*room.LastMessage, room.ExternalId)
		resp.LastMessage = &lastMsg
	}

	return resp
}

func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	showHistory := true
	if req.ShowHistory != nil {
		showHistory = *req.ShowHistory
	}

	params := database.CreateRoomParams{
		Name:        strings.TrimSpace(req.Name),
		ExternalId:  sid,
		OwnerId:     userId,
		IsPrivate:   req.IsPrivate,
		ShowHistory: showHistory,
	}

	newRoom, err := s.createRoomWithInviteCode(params)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrDuplicateInviteCode) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.log.Println("create room:", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room := roomResponse(&newRoom, userId)
	room.InviteCode = newRoom.InviteCode
	s.writeJson(w, http.StatusCreated, room)
}

// createRoomWithInviteCode creates the room, drawing invite codes for private
// rooms until one clears the store's uniqueness index. Collisions are
// detected at write time, so two rooms racing for the same code cannot both
// win; the attempt budget turns a pathological collision streak into a hard
// failure instead of an infinite loop.
func (s *ChatApp) createRoomWithInviteCode(params database.CreateRoomParams) (database.Room, error) {
	if !params.IsPrivate || params.IsDirectMessage {
		return s.db.CreateRoom(params)
	}

	var lastErr error
	for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
		params.InviteCode = s.generateInviteCode()

		room, err := s.db.CreateRoom(params)
		if errors.Is(err, database.ErrDuplicateInviteCode) {
			lastErr = err
			continue
		}

		return room, err
	}

	return database.Room{}, lastErr
}

func (s *ChatApp) joinPublicRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.PathValue("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.IsPrivate {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	_, err = s.db.AddRoomMember(room.Id, userId, types.RoleMember)
	if err != nil && !errors.Is(err, database.ErrAlreadyMember) {
		s.log.Println("add room member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.GetRoomWithMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, roomResponse(updated, userId))
}

func (s *ChatApp) joinRoomByCode(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req JoinCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByInviteCode(code)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.OwnerId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.AddRoomMember(room.Id, userId, types.RoleMember)
	if err != nil && !errors.Is(err, database.ErrAlreadyMember) {
		s.log.Println("add room member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a fresh membership gets a durable join announcement; re-joins do not
	if member.Id != 0 {
		s.announceJoin(room, userId)
	}

	updated, err := s.db.GetRoomWithMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, roomResponse(updated, userId))
}

// announceJoin writes the join system message to the room's log and relays it
// to any connected subscribers. The membership row is already committed, so a
// failed announcement is logged rather than rolled back.
func (s *ChatApp) announceJoin(room database.Room, userId int) {
	user, err := s.db.GetAccountById(userId)
	if err != nil {
		s.log.Println("get account:", err)
		return
	}

	msg, err := s.db.CreateMessage(database.Message{
		RoomId:   room.Id,
		Type:     types.MessageTypeText,
		Content:  user.Username + " joined the chat",
		IsSystem: true,
	})
	if err != nil {
		s.log.Println("create system message:", err)
		return
	}

	s.cs.NotifyRoom(room.ExternalId, &server.ServerMessage{
		BaseMessage: server.BaseMessage{
			Timestamp: msg.CreatedAt,
		},
		Message: &types.Message{
			Id:        msg.Id,
			RoomId:    room.ExternalId,
			Type:      msg.Type,
			Content:   msg.Content,
			IsSystem:  true,
			CreatedAt: msg.CreatedAt,
		},
	})
}

func (s *ChatApp) createDirectRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req DirectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.TargetUserId == 0 || req.TargetUserId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountById(req.TargetUserId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, created, err := s.db.GetOrCreateDirectRoom(userId, req.TargetUserId, sid)
	if err != nil {
		s.log.Println("get or create direct room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	withMembers, err := s.db.GetRoomWithMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.writeJson(w, status, roomResponse(withMembers, userId))
}

func (s *ChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.PathValue("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteRoom(room.Id); err != nil {
		s.log.Println("delete room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// notify current subscribers and tear the room's goroutine down
	if err := s.cs.UnloadRoom(r.Context(), room.ExternalId, true); err != nil {
		s.log.Println("delete room from chat server:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, s.cs, s.log, s.stats)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
