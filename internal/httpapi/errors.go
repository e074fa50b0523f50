package httpapi

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docrag/internal/domain"
)

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

func NewError(code int, msg string) Error {
	return Error{Code: code, Message: msg}
}

func ErrBadRequest() Error {
	return Error{Code: fiber.StatusBadRequest, Message: "invalid JSON request"}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errs map[string]string) ValidationError {
	return ValidationError{Status: fiber.StatusUnprocessableEntity, Errors: errs}
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrEmptyInput):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConfiguration):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// NewErrorHandler renders every error as a JSON body.
func NewErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Code).JSON(apiErr)
		}
		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}
		apiErr = NewError(StatusFor(err), err.Error())
		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
		} else {
			logger.Info("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}
