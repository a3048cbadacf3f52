package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
	"github.com/PaulBabatuyi/chatsync/internal/normalize"
)

// locals key holding the authenticated user id
const userIDKey = "userID"

// userID returns the id set by requireAuth.
func userID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(userIDKey).(int64)
	return id
}

// rateKey buckets REST requests per authenticated user.
func rateKey(c *fiber.Ctx) string {
	if id := userID(c); id > 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return ""
}

// requireAuth verifies the bearer token and stores the user id in locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := normalize.BearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Forbidden"})
	}
	id, err := s.auth.Authenticate(token)
	if err != nil {
		s.log.Debugw("rejected token", "error", err, "path", c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Forbidden"})
	}
	c.Locals(userIDKey, id)
	return c.Next()
}

// touchLastSeen records activity for every authenticated request. A
// failure is logged and does not fail the request.
func (s *Server) touchLastSeen(c *fiber.Ctx) error {
	if err := s.presence.TouchLastSeen(c.UserContext(), userID(c)); err != nil {
		s.log.Warnw("touch last seen", "user_id", userID(c), "error", err)
	}
	return c.Next()
}

// requestLog logs one line per request with a request id echoed in
// X-Request-ID.
func (s *Server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	rid := c.Get(fiber.HeaderXRequestID)
	if rid == "" {
		rid = uuid.NewString()
	}
	c.Set(fiber.HeaderXRequestID, rid)

	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	s.log.Infow("request",
		"request_id", rid,
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"latency", time.Since(start),
		"user_id", userID(c),
	)
	return nil
}

// errorHandler maps errors to the JSON shape {"message": ...}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, chat.ErrMembership):
		status = fiber.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		status = fiber.StatusNotFound
	default:
		s.log.Errorw("request failed", "path", c.Path(), "user_id", userID(c), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"message": chat.PublicMessage(err)})
}
