package ingress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/engine"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 16 * 1024
)

type wsInbound struct {
	Content string `json:"content"`
}

// wsFrame is a server frame on the websocket chat.
type wsFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Node    string `json:"node,omitempty"`
}

// handleWebSocket serves one customer per connection. Messages are handled
// one at a time in arrival order.
func (s *Server) handleWebSocket(c echo.Context) error {
	phone, err := normalizePhone(c.QueryParam("phone"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	ctx := c.Request().Context()
	logger := s.logger.With().Str("route", c.Path()).Logger()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			return nil
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			if s.writeFrame(conn, wsFrame{Type: "error", Content: "invalid message", Done: true}) != nil {
				return nil
			}
			continue
		}
		content, err := s.screen(in.Content)
		if err != nil {
			if s.writeFrame(conn, wsFrame{Type: "error", Content: err.Error(), Done: true}) != nil {
				return nil
			}
			continue
		}

		sessionID, err := s.resolve(ctx, phone)
		if err != nil {
			logger.Error().Err(err).Msg("Session resolution failed")
			if s.writeFrame(conn, wsFrame{Type: "error", Content: msgInternal, Done: true}) != nil {
				return nil
			}
			continue
		}

		req := engine.TurnRequest{SessionID: sessionID, SubjectID: phone, Message: content, RequestID: tracing.NewRequestID()}
		if err := s.streamToSocket(conn, c, req); err != nil {
			logger.Debug().Err(err).Msg("WebSocket closed during turn")
			return nil
		}
	}
}

// streamToSocket relays one turn. It returns an error only when the
// connection can no longer be written.
func (s *Server) streamToSocket(conn *websocket.Conn, c echo.Context, req engine.TurnRequest) error {
	ctx := tracing.WithRequestID(c.Request().Context(), req.RequestID)
	events, err := s.engine.StreamTurn(ctx, req)
	if err != nil {
		_, msg := s.classify(err)
		return s.writeFrame(conn, wsFrame{Type: "error", Content: msg, Done: true})
	}

	var reply strings.Builder
	for ev := range events {
		var frame wsFrame
		switch ev.Type {
		case engine.EventToken:
			reply.WriteString(ev.Content)
			frame = wsFrame{Type: "token", Content: ev.Content}
		case engine.EventNode:
			frame = wsFrame{Type: "node", Node: string(ev.Node)}
		case engine.EventDone:
			content := reply.String()
			if ev.Result != nil {
				content = ev.Result.Reply()
			}
			frame = wsFrame{Type: "done", Content: content, Done: true, Node: string(ev.Node)}
		case engine.EventError:
			s.logTurnError(c, ev.Err)
			_, msg := s.classify(ev.Err)
			frame = wsFrame{Type: "error", Content: msg, Done: true}
		default:
			continue
		}
		if err := s.writeFrame(conn, frame); err != nil {
			// Drain so the engine's sender never blocks on a dead reader.
			for range events {
			}
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
