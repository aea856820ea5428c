package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/service/auth"
	"github.com/phrazzld/taskqueue/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrInvalidAPIKey):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err. Validation
// messages are built from request values and are returned as is; everything
// else gets a fixed message.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"
	case errors.Is(err, auth.ErrInvalidAPIKey):
		return "Invalid API key"
	case errors.Is(err, domain.ErrValidation):
		return validationMessage(err)
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"
	case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.Is(err, domain.ErrInvalidState):
		return "Task state does not allow this operation"
	case errors.Is(err, store.ErrDuplicate):
		return "Task already exists"
	case errors.Is(err, store.ErrTransient):
		return "Service temporarily unavailable"
	default:
		return "An unexpected error occurred"
	}
}

// validationMessage returns the detail after the outermost "validation
// failed: " prefix, capitalized.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, domain.ErrValidation.Error()+": "); i >= 0 {
		msg = msg[i+len(domain.ErrValidation.Error())+2:]
	}
	if msg == "" || msg == domain.ErrValidation.Error() {
		return "Validation error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// SanitizeValidationError turns request validation errors into a message
// naming the first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag(), fe.Param()))
}

func getValidationTagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "must be at least " + param
	case "max", "lte":
		return "must be at most " + param
	case "oneof":
		return "must be one of " + param
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the response for err. defaultMsg replaces the generic
// message of unexpected errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
