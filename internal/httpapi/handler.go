// Package httpapi exposes the document QA service over HTTP.
package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"docrag/internal/service"
	"docrag/internal/synthesizer"
)

// QAService is the subset of service.Service the handlers call.
type QAService interface {
	ProcessDocuments(ctx context.Context, paths []string) (service.IngestReport, error)
	Query(ctx context.Context, question string) (synthesizer.Answer, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (service.Status, error)
}

type Handler struct {
	svc QAService
}

func NewHandler(svc QAService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

func (h *Handler) HandleDocuments(c *fiber.Ctx) error {
	var req IngestRequest
	if c.BodyParser(&req) != nil {
		return ErrBadRequest()
	}
	if errs := Validate(&req); len(errs) > 0 {
		return NewValidationError(errs)
	}
	report, err := h.svc.ProcessDocuments(c.UserContext(), req.Paths)
	if err != nil {
		return err
	}
	return c.JSON(newIngestResponse(report))
}

func (h *Handler) HandleQuery(c *fiber.Ctx) error {
	var req QueryRequest
	if c.BodyParser(&req) != nil {
		return ErrBadRequest()
	}
	if errs := Validate(&req); len(errs) > 0 {
		return NewValidationError(errs)
	}
	answer, err := h.svc.Query(c.UserContext(), req.Question)
	if err != nil {
		return err
	}
	return c.JSON(newQueryResponse(answer))
}

func (h *Handler) HandleReset(c *fiber.Ctx) error {
	if err := h.svc.Reset(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": "ok"})
}

func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	st, err := h.svc.Status(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(StatusResponse{
		Collection: st.Collection,
		Entries:    st.Entries,
		Mode:       string(st.Mode),
		Degraded:   st.Degraded,
	})
}
