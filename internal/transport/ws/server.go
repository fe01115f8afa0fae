// Package ws serves chat runs over a WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// Path is the route of the WebSocket endpoint.
const Path = "/chat/ws"

// maxCloseReason is the largest close reason that fits a control frame.
const maxCloseReason = 123

var errClientClosed = errors.New("client closed connection")

// Streamer runs a chat request. Implemented by *service.Service.
type Streamer interface {
	Stream(ctx context.Context, in *domain.RunInput, sink service.Sink) error
}

// Admitter decides whether a request may run. Implemented by *policy.Engine.
type Admitter interface {
	Admit(ctx context.Context, in *domain.RunInput) error
}

// Config tunes connection keepalive and limits.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Server handles WebSocket connections. Each connection carries one run: the
// first text frame is the RunInput, every event goes out as one text frame and
// a normal close follows the terminal event.
type Server struct {
	cfg      Config
	streamer Streamer
	admitter Admitter
	encoder  *agui.Encoder
	logger   *zap.Logger
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server. A nil admitter admits every run.
func NewServer(cfg Config, streamer Streamer, admitter Admitter, encoder *agui.Encoder, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		streamer: streamer,
		admitter: admitter,
		encoder:  encoder,
		logger:   logger,
		hub:      NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS middleware configuration.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the WebSocket route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(Path, s.HandleWebSocket)
}

// HandleWebSocket upgrades the request and serves one run on it.
// GET /chat/ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}
	defer conn.Close()

	id := s.hub.Register(conn)
	defer s.hub.Unregister(id)

	s.serve(c.Request().Context(), conn)
	return nil
}

// Shutdown closes every open connection with a going-away close frame. Runs
// in flight are cancelled through their read side.
func (s *Server) Shutdown() {
	if n := s.hub.Count(); n > 0 {
		s.logger.Info("closing websocket connections", zap.Int("count", n))
	}
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down", s.cfg.WriteTimeout)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	in, err := s.readInput(conn)
	if err != nil {
		s.logger.Info("rejecting websocket run", zap.Error(err))
		s.close(conn, websocket.CloseInvalidFramePayloadData, err.Error())
		return
	}

	if err := s.admit(ctx, in); err != nil {
		code := websocket.CloseInternalServerErr
		var denied *policy.DeniedError
		if errors.As(err, &denied) {
			code = websocket.ClosePolicyViolation
		}
		s.close(conn, code, err.Error())
		return
	}

	go s.readPump(conn, cancel)

	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing)

	err = s.streamer.Stream(ctx, in, func(ev agui.Event) error {
		data, err := s.encoder.EncodeJSON(ev)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	})
	close(stopPing)

	var deliveryErr *service.DeliveryError
	if errors.As(err, &deliveryErr) {
		return
	}
	s.close(conn, websocket.CloseNormalClosure, "")
}

// readInput reads the first text frame and decodes it as a RunInput.
func (s *Server) readInput(conn *websocket.Conn) (*domain.RunInput, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var in domain.RunInput
		if err := json.Unmarshal(data, &in); err != nil {
			if !errors.Is(err, domain.ErrInvalidInput) {
				err = errors.Join(domain.ErrInvalidInput, err)
			}
			return nil, err
		}
		return &in, nil
	}
}

func (s *Server) admit(ctx context.Context, in *domain.RunInput) error {
	if s.admitter == nil {
		return nil
	}
	return s.admitter.Admit(ctx, in)
}

// readPump keeps reading so control frames are processed, and cancels the run
// once the client goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelCauseFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			cancel(errClientClosed)
			return
		}
	}
}

// pingLoop sends pings until stop is closed.
func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, closeReason(reason))
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

// closeReason trims reason to fit a close frame without splitting a rune.
func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	end := maxCloseReason
	for end > 0 && !utf8.RuneStart(reason[end]) {
		end--
	}
	return reason[:end]
}
