package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/victorivanov/commsync/internal/auth"
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/transport"
)

// writeError sends the standard JSON error envelope.
func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, transport.ErrorResponse{
		Error: transport.ErrorDetail{Code: code, Message: message},
	})
}

func serviceError(c echo.Context, err error) error {
	status, code, message := describe(err)
	return writeError(c, status, code, message)
}

func caller(c echo.Context) User {
	return User{ID: auth.GetUserID(c), Name: auth.GetUserName(c)}
}

type messageResponse struct {
	Message models.Message `json:"message"`
}

// listChannels handles GET /api/comms/channels.
func (s *Server) listChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"channels": s.svc.Channels()})
}

// getMessages handles GET /api/comms/channels/:id/messages.
func (s *Server) getMessages(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return writeError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
		}
		limit = parsed
	}

	var before time.Time
	if cur := c.QueryParam("cursor"); cur != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cur)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "INVALID_CURSOR", "cursor must be an RFC 3339 timestamp")
		}
		before = parsed
	}

	messages, err := s.svc.History(c.Param("id"), before, limit)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// createMessage handles POST /api/comms/channels/:id/messages.
func (s *Server) createMessage(c echo.Context) error {
	var req transport.NewMessage
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := s.svc.Send(c.Request().Context(), caller(c), c.Param("id"), req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, messageResponse{Message: msg})
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

// updateMessage handles PATCH /api/comms/messages/:id.
func (s *Server) updateMessage(c echo.Context) error {
	var req updateMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := s.svc.Edit(caller(c), c.Param("id"), req.Content)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msg})
}

// deleteMessage handles DELETE /api/comms/messages/:id.
func (s *Server) deleteMessage(c echo.Context) error {
	ref, err := s.svc.Delete(caller(c), c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, ref)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// toggleReaction handles POST /api/comms/messages/:id/reactions.
func (s *Server) toggleReaction(c echo.Context) error {
	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := s.svc.React(caller(c), c.Param("id"), req.Emoji)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msg})
}

type pinRequest struct {
	IsPinned bool `json:"isPinned"`
}

// setPinned handles POST /api/comms/messages/:id/pin.
func (s *Server) setPinned(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := s.svc.Pin(c.Param("id"), req.IsPinned)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msg})
}

// getPresence handles GET /api/comms/presence.
func (s *Server) getPresence(c echo.Context) error {
	records, err := s.svc.Presence(c.Request().Context())
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
	return c.JSON(http.StatusOK, map[string]any{"presence": records})
}
