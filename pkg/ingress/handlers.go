package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/engine"
	"github.com/harun/menubot/pkg/llm"
)

// Customer-facing texts for failed turns.
const (
	msgModelUnavailable = "Lo siento, en este momento no puedo responder. Por favor intenta de nuevo en unos minutos."
	msgInternal         = "Lo siento, ocurrió un error procesando tu mensaje. Por favor intenta de nuevo."
	msgRateLimited      = "Estás enviando mensajes muy rápido. Por favor espera un momento."
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Content string `json:"content"`
	Node    string `json:"node"`
}

type historyResponse struct {
	Messages []chatMessage `json:"messages"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// streamChunk is one server-sent event of a streamed reply.
type streamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Node    string `json:"node,omitempty"`
	Error   bool   `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     s.version,
		Environment: s.environment,
	})
}

// turnRequest validates the phone and content and resolves the customer's
// thread.
func (s *Server) turnRequest(c echo.Context, content string) (engine.TurnRequest, error) {
	phone, err := normalizePhone(c.QueryParam("phone"))
	if err != nil {
		return engine.TurnRequest{}, fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	}
	sessionID, err := s.resolve(c.Request().Context(), phone)
	if err != nil {
		return engine.TurnRequest{}, err
	}
	return engine.TurnRequest{
		SessionID: sessionID,
		SubjectID: phone,
		Message:   content,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}, nil
}

func (s *Server) resolve(ctx context.Context, phone string) (string, error) {
	if _, err := s.sessions.EnsureCustomer(ctx, phone); err != nil {
		return "", fmt.Errorf("ensure customer: %w", err)
	}
	sessionID, err := s.sessions.ResolveSession(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return sessionID, nil
}

func (s *Server) handleChat(c echo.Context) error {
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	content, err := lastUserMessage(body.Messages)
	if err == nil {
		content, err = s.screen(content)
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	req, err := s.turnRequest(c, content)
	if err != nil {
		return s.turnError(c, err)
	}

	res, err := s.engine.RunTurn(s.requestContext(c), req)
	if err != nil {
		return s.turnError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse{Content: res.Reply(), Node: string(res.Node)})
}

func (s *Server) handleChatStream(c echo.Context) error {
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	content, err := lastUserMessage(body.Messages)
	if err == nil {
		content, err = s.screen(content)
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	req, err := s.turnRequest(c, content)
	if err != nil {
		return s.turnError(c, err)
	}

	events, err := s.engine.StreamTurn(s.requestContext(c), req)
	if err != nil {
		return s.turnError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		var chunk streamChunk
		switch ev.Type {
		case engine.EventToken:
			chunk = streamChunk{Content: ev.Content}
		case engine.EventDone:
			chunk = streamChunk{Done: true, Node: string(ev.Node)}
		case engine.EventError:
			_, msg := s.classify(ev.Err)
			s.logTurnError(c, ev.Err)
			chunk = streamChunk{Content: msg, Done: true, Error: true}
		default:
			continue
		}
		if err := writeEvent(w, chunk); err != nil {
			// Client went away. The turn keeps running to completion.
			for range events {
			}
			return nil
		}
	}
	return nil
}

func writeEvent(w *echo.Response, chunk streamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleHistory(c echo.Context) error {
	phone, err := normalizePhone(c.QueryParam("phone"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	ctx := s.requestContext(c)
	sessionID, err := s.resolve(ctx, phone)
	if err != nil {
		return s.turnError(c, err)
	}
	msgs, err := s.engine.History(ctx, sessionID)
	if err != nil {
		return s.turnError(c, err)
	}

	out := historyResponse{Messages: make([]chatMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleClear(c echo.Context) error {
	phone, err := normalizePhone(c.QueryParam("phone"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	ctx := s.requestContext(c)
	sessionID, err := s.resolve(ctx, phone)
	if err != nil {
		return s.turnError(c, err)
	}
	if err := s.engine.ClearHistory(ctx, sessionID); err != nil {
		return s.turnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) requestContext(c echo.Context) context.Context {
	ctx := c.Request().Context()
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = tracing.WithRequestID(ctx, id)
	}
	return ctx
}

// classify maps a turn error to a status code and the text shown to the
// customer.
func (s *Server) classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrModelUnavailable), llm.IsModelUnavailable(err):
		return http.StatusServiceUnavailable, msgModelUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgModelUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func (s *Server) turnError(c echo.Context, err error) error {
	status, msg := s.classify(err)
	if status >= http.StatusInternalServerError {
		s.logTurnError(c, err)
	}
	return c.JSON(status, errorResponse{Error: msg})
}

func (s *Server) logTurnError(c echo.Context, err error) {
	logger := tracing.LoggerFromContext(s.requestContext(c), s.logger)
	logger.Error().
		Err(err).
		Str("route", c.Path()).
		Msg("Turn failed")
}
