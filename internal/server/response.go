package server

import "github.com/gofiber/fiber/v2"

// ErrorType classifies error responses for API clients.
type ErrorType string

const (
	GeneralErrorType    ErrorType = "GeneralError"
	ValidationErrorType ErrorType = "ValidationError"
	NotFoundErrorType   ErrorType = "NotFoundError"
	ConflictErrorType   ErrorType = "ConflictError"
)

// Response is the envelope for every JSON API response.
type Response struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`
}

// SendSuccess writes a success envelope.
func SendSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Response{Status: "success", Data: data})
}

// SendError writes an error envelope with the general error type.
func SendError(c *fiber.Ctx, status int, message string) error {
	return SendErrorWithType(c, status, message, GeneralErrorType)
}

// SendErrorWithType writes an error envelope.
func SendErrorWithType(c *fiber.Ctx, status int, message string, errType ErrorType) error {
	return c.Status(status).JSON(Response{Status: "error", Message: message, ErrorType: errType})
}
