package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "ag-ui-backend"

// Streamer runs a chat request. Implemented by *service.Service.
type Streamer interface {
	Stream(ctx context.Context, in *domain.RunInput, sink service.Sink) error
}

// Admitter decides whether a request may run. Implemented by *policy.Engine.
type Admitter interface {
	Admit(ctx context.Context, in *domain.RunInput) error
}

// ErrorResponse is the body of every non-streaming error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the chat endpoints.
type Handler struct {
	streamer Streamer
	admitter Admitter
	encoder  *agui.Encoder
	logger   *zap.Logger
}

// NewHandler creates a new chat handler. A nil admitter admits every request.
func NewHandler(streamer Streamer, admitter Admitter, encoder *agui.Encoder, logger *zap.Logger) *Handler {
	return &Handler{
		streamer: streamer,
		admitter: admitter,
		encoder:  encoder,
		logger:   logger,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	e.POST("/chat", h.Chat)
}

// Root describes the service.
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"endpoints": []string{"/chat", "/health"},
	})
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Chat streams the events of one run as server-sent events.
// POST /chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var in domain.RunInput
	if err := decodeRunInput(c.Request().Body, &in); err != nil {
		if !errors.Is(err, domain.ErrInvalidInput) {
			err = errors.Join(domain.ErrInvalidInput, err)
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	if status, err := Admit(ctx, h.admitter, &in); err != nil {
		return c.JSON(status, ErrorResponse{Error: err.Error()})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, h.encoder.ContentType())
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	err := h.streamer.Stream(ctx, &in, func(ev agui.Event) error {
		frame, err := h.encoder.Encode(ev)
		if err != nil {
			return err
		}
		if _, err := res.Write(frame); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	if err != nil {
		// Status is already committed; the stream itself carried any RunError.
		h.logger.Debug("chat stream ended with error",
			zap.String("thread_id", in.ThreadID),
			zap.String("run_id", in.RunID),
			zap.Error(err),
		)
	}
	return nil
}

// Admit runs the admission policy and maps a rejection to an HTTP status.
func Admit(ctx context.Context, admitter Admitter, in *domain.RunInput) (int, error) {
	if admitter == nil {
		return http.StatusOK, nil
	}
	err := admitter.Admit(ctx, in)
	if err == nil {
		return http.StatusOK, nil
	}
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		return http.StatusForbidden, err
	}
	return http.StatusInternalServerError, err
}

// decodeRunInput decodes exactly one JSON value from body.
func decodeRunInput(body io.Reader, in *domain.RunInput) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(in); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after request body")
	}
	return nil
}
