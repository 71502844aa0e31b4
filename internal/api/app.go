package api

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/pujitha-mule/realtime-chat-app/internal/config"
	"github.com/pujitha-mule/realtime-chat-app/internal/database"
	"github.com/pujitha-mule/realtime-chat-app/internal/server"
	"github.com/pujitha-mule/realtime-chat-app/internal/stats"
	"github.com/teris-io/shortid"
)

const inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type ChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	uploadDir      string

	// overridable in tests
	generateShortId    func() (string, error)
	generateInviteCode func() string
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, sp stats.StatsProvider, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		stats:           sp,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		uploadDir:       cfg.UploadDir,
		generateShortId: shortid.Generate,
		generateInviteCode: func() string {
			code := make([]byte, inviteCodeLength)
			for i := range code {
				code[i] = inviteCodeAlphabet[rand.Intn(len(inviteCodeAlphabet))]
			}
			return string(code)
		},
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/users", s.authMiddleware(s.listUsers))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("POST /api/rooms/join-public/{id}", s.authMiddleware(s.joinPublicRoom))
	mux.HandleFunc("POST /api/rooms/join-code", s.authMiddleware(s.joinRoomByCode))
	mux.HandleFunc("POST /api/rooms/private", s.authMiddleware(s.createDirectRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("GET /api/messages/{roomId}", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("POST /api/messages/upload", s.authMiddleware(s.uploadMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
