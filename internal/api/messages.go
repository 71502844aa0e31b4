package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/types"
)

// maxUploadSize caps attachment uploads at 5 MiB.
const maxUploadSize = 5 << 20

type CreateMessageRequest struct {
	RoomId  string `json:"room_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func messageResponse(msg database.Message, roomExternalId string) types.Message {
	return types.Message{
		Id:        msg.Id,
		RoomId:    roomExternalId,
		SenderId:  msg.SenderId,
		Sender:    msg.SenderName,
		Type:      msg.Type,
		Content:   msg.Content,
		FileUrl:   msg.FileUrl,
		FileName:  msg.FileName,
		IsSystem:  msg.IsSystem,
		CreatedAt: msg.CreatedAt,
	}
}

// getMessages returns the room's message history. Non-members are refused.
// In rooms that hide history from late joiners, members only see messages
// written at or after the time they joined; the owner, and members of direct
// message rooms, always see the full log.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.PathValue("roomId")
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

	var since time.Time
	if room.OwnerId != userId {
		member, err := s.db.GetMembership(room.Id, userId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewForbiddenError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if !room.ShowHistory && !room.IsDirectMessage {
			since = member.JoinedAt
		}
	}

	dbMessages, err := s.db.ListMessages(room.Id, since)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, len(dbMessages))
	for i, msg := range dbMessages {
		messages[i] = messageResponse(msg, room.ExternalId)
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.RoomId == "" || strings.TrimSpace(req.Content) == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// image and file messages carry a blob and must go through the upload
	// route; this route only produces text messages
	if req.Type != "" && req.Type != types.MessageTypeText {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, member, apiErr := s.resolveSender(req.RoomId, userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	msg, err := s.db.CreateMessage(database.Message{
		RoomId:   room.Id,
		SenderId: userId,
		Type:     types.MessageTypeText,
		Content:  req.Content,
	})
	if err != nil {
		s.log.Println("create message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg.SenderName = member.Username
	s.writeJson(w, http.StatusCreated, messageResponse(msg, room.ExternalId))
}

// resolveSender loads the room by external id and checks the caller may post
// to it. The owner is always allowed; anyone else must hold a membership row.
func (s *ChatApp) resolveSender(externalId string, userId int) (database.Room, database.Member, *ApiError) {
	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Room{}, database.Member{}, NewNotFoundError()
		}
		return database.Room{}, database.Member{}, NewInternalServerError(err)
	}

	member, err := s.db.GetMembership(room.Id, userId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return database.Room{}, database.Member{}, NewInternalServerError(err)
		}
		if room.OwnerId != userId {
			return database.Room{}, database.Member{}, NewForbiddenError()
		}

		user, err := s.db.GetAccountById(userId)
		if err != nil {
			return database.Room{}, database.Member{}, NewInternalServerError(err)
		}
		member = database.Member{AccountId: userId, Username: user.Username}
	}

	return room, member, nil
}

func (s *ChatApp) uploadMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomExternalId := r.FormValue("room_id")
	if roomExternalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgType := r.FormValue("type")
	switch msgType {
	case "", types.MessageTypeImage, types.MessageTypeFile:
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, member, apiErr := s.resolveSender(roomExternalId, userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	// store under a generated name so uploads can never collide or
	// escape the upload directory
	blobName := uuid.NewString() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(s.uploadDir, blobName))
	if err != nil {
		s.log.Println("create upload file:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		s.log.Println("write upload file:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msgType == "" {
		if strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
			msgType = types.MessageTypeImage
		} else {
			msgType = types.MessageTypeFile
		}
	}

	msg, err := s.db.CreateMessage(database.Message{
		RoomId:   room.Id,
		SenderId: userId,
		Type:     msgType,
		Content:  header.Filename,
		FileUrl:  "/uploads/" + blobName,
		FileName: header.Filename,
	})
	if err != nil {
		s.log.Println("create message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg.SenderName = member.Username
	s.writeJson(w, http.StatusCreated, messageResponse(msg, room.ExternalId))
}

// deleteMessage removes a message. Only the message's sender or the owner of
// its room may delete it.
func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessageById(id)
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

	if msg.SenderId != userId {
		room, err := s.db.GetRoomWithMembers(msg.RoomId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if room.OwnerId != userId {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if err := s.db.DeleteMessage(id); err != nil {
		s.log.Println("delete message:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
