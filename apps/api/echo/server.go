package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/course"
	"github.com/trezcool/elearn/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    *user.Service
		Rooms      *chat.Registry
		Messages   *chat.MessageStore
		Chat       *chat.Handler
		CourseSvc  *course.Service
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal

		// sockets is cancelled on shutdown to close the live chat connections
		sockets       context.Context
		cancelSockets context.CancelFunc
		conns         sync.WaitGroup
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.sockets, s.cancelSockets = context.WithCancel(context.Background())
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	auth := []echo.MiddlewareFunc{
		middleware.JWTWithConfig(newJWTConfig(conf)),
		activeUserMiddleware(s.deps.UserSvc),
	}

	registerUserAPI(v1, auth, conf, s.deps.UserSvc, s.deps.Validate)
	registerChatAPI(v1, auth, s.deps.UserSvc, s.deps.Rooms, s.deps.Messages)
	registerCourseAPI(v1, auth, s.deps.UserSvc, s.deps.CourseSvc)

	// sockets authenticate through the chat gate, not the jwt middleware
	s.app.GET("/ws/chat/:id", s.chatSocket)
}

// Start blocks until the server stops; errors other than a graceful stop are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) SignalShutdown() {
	s.shutdown <- syscall.SIGTERM
}

// Shutdown stops accepting requests, then closes the chat connections and waits for them to leave their rooms.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	s.closeSockets(ctx)
	return err
}

func (s *Server) Close() error {
	s.cancelSockets()
	return s.app.Close()
}

func (s *Server) closeSockets(ctx context.Context) {
	s.cancelSockets()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.deps.Logger.Warn("chat connections still open at shutdown deadline")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
