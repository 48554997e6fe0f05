// Package httpapi exposes the command and query surface over HTTP plus a
// websocket push channel for live events.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nrednav/cuid2"

	"wagate/internal/dispatch"
	"wagate/internal/eventbus"
	"wagate/internal/ledger"
	"wagate/internal/session"
	"wagate/pkg/logx"
)

const (
	messageLogLimit = 100
	failedTxLimit   = 50
)

// Session is the lifecycle surface the API needs.
type Session interface {
	Status() (session.State, string)
	Reconnect()
}

// Dispatcher is the command surface the API needs.
type Dispatcher interface {
	Send(ctx context.Context, recipient, body string) (dispatch.SendResult, error)
	SendBulk(ctx context.Context, recipients []string, body string, interval time.Duration) (string, error)
	Retry(ctx context.Context, transactionID string) error
}

type Config struct {
	Addr      string
	BodyLimit string
}

type Server struct {
	echo  *echo.Echo
	sess  Session
	disp  Dispatcher
	store ledger.Store
	bus   eventbus.Bus
	log   logx.Logger
	cfg   Config
}

func New(cfg Config, sess Session, disp Dispatcher, store ledger.Store, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s := &Server{
		echo:  e,
		sess:  sess,
		disp:  disp,
		store: store,
		bus:   bus,
		log:   log,
		cfg:   cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/qr-code", s.handleQRCode)
	api.GET("/connection-status", s.handleConnectionStatus)
	api.POST("/reconnect", s.handleReconnect)
	api.POST("/send-message", s.handleSendMessage)
	api.POST("/send-bulk-messages", s.handleSendBulk)
	api.GET("/message-logs", s.handleMessageLogs)
	api.GET("/failed-transactions", s.handleFailedTransactions)
	api.POST("/retry-message", s.handleRetryMessage)

	s.echo.GET("/ws", s.handleWebsocket)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func fail(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]any{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRecipient),
		errors.Is(err, dispatch.ErrEmptyBody),
		errors.Is(err, dispatch.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotSendable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
