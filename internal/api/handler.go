package api

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/helicone/requestquery/internal/engine"
	"github.com/helicone/requestquery/internal/logger"
	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

const (
	HeaderOrganizationID = "Helicone-Organization-Id"
	HeaderRequestID      = "X-Request-Id"
)

// Engine is the part of engine.Engine the handlers call.
type Engine interface {
	Query(ctx context.Context, tenantID string, p engine.QueryParams) ([]*storage.RequestRecord, error)
	Count(ctx context.Context, tenantID string, p engine.CountParams) (int64, error)
}

type Handler struct {
	engine Engine
	log    *slog.Logger
}

func NewHandler(e Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: e, log: log}
}

// RequestID tags each call with an id, reusing the caller's X-Request-Id.
func RequestID(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Get(HeaderRequestID))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(HeaderRequestID, id)
	c.SetUserContext(logger.WithRequestID(c.UserContext(), id))
	return c.Next()
}

// QueryRequests handles POST /v1/request/query
func (h *Handler) QueryRequests(c *fiber.Ctx) error {
	var req types.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid request body"})
	}

	ctx := c.UserContext()
	records, err := h.engine.Query(ctx, tenantID(c), engine.QueryParams{
		Filter:         req.Filter.Node(),
		Offset:         req.Offset,
		Limit:          req.Limit,
		Sort:           req.Sort,
		Dialect:        req.Dialect,
		GovernanceOnly: req.GovernanceOnly,
	})
	if err != nil {
		return h.fail(c, err)
	}

	out := make([]types.Request, len(records))
	for i, record := range records {
		out[i] = recordToRequest(record)
	}
	return c.JSON(types.Result[[]types.Request]{Data: out})
}

// CountRequests handles POST /v1/request/count
func (h *Handler) CountRequests(c *fiber.Ctx) error {
	var req types.CountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: "Invalid request body"})
	}

	n, err := h.engine.Count(c.UserContext(), tenantID(c), engine.CountParams{
		Filter:         req.Filter.Node(),
		Dialect:        req.Dialect,
		GovernanceOnly: req.GovernanceOnly,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(types.Result[int64]{Data: n})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// fail maps engine errors onto the envelope. Store details stay in the log.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	log := logger.FromContext(c.UserContext(), h.log)
	switch {
	case query.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{Error: err.Error()})
	case storage.IsStore(err):
		log.Error("store read failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(types.ErrorResponse{Error: "Failed to read requests"})
	}
	log.Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(types.ErrorResponse{Error: "Internal error"})
}

func tenantID(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderOrganizationID))
}
