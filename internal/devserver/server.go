// Package devserver is a small chat backend that speaks the client's REST and
// WebSocket protocols. It exists for local end-to-end runs and tests.
package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

// Server wires the REST API and the socket hub over one message store.
type Server struct {
	cfg    config.DevServerConfig
	store  store.MessageStore
	jwt    *auth.JWTConfig
	hub    *hub
	router *gin.Engine
	log    *zerolog.Logger
}

// New builds a server. The store is not closed by the server.
func New(cfg config.DevServerConfig, st store.MessageStore, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Server{
		cfg:   cfg,
		store: st,
		jwt:   &auth.JWTConfig{Secret: []byte(cfg.JWTSecret)},
		hub:   newHub(logger),
		log:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(s.log))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	authed := AuthMiddleware(s.jwt, s.log)
	router.GET("/ws", authed, s.serveWS)

	api := router.Group("/api", authed)
	{
		api.GET("/rooms/:room/messages", s.listMessages)
		api.POST("/rooms/:room/messages", s.sendMessage)
		api.PATCH("/rooms/:room/messages/:id", s.editMessage)
		api.DELETE("/rooms/:room/messages/:id", s.deleteMessage)
	}

	return router
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// JWT returns the token settings the server validates against.
func (s *Server) JWT() *auth.JWTConfig {
	return s.jwt
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	return s.hub.count()
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		// hijacked sockets outlive Shutdown; tie them to ctx instead
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("devserver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("devserver shutdown error")
		return err
	}
	s.log.Info().Msg("devserver stopped")
	return nil
}

// publish broadcasts one envelope to every socket.
func (s *Server) publish(channel, action string, data any) {
	env, err := proto.NewEnvelope(channel, action, data)
	if err != nil {
		s.log.Error().Err(err).Str("channel", channel).Str("action", action).Msg("failed to build envelope")
		return
	}
	s.hub.broadcast(env)
}
