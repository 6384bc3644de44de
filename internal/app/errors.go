package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"clausemark/api/internal/auth"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/docrepo"
	"clausemark/api/internal/policy"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *comments.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid comment", validationErr.Fields
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, docrepo.ErrNoDocument):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, docrepo.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_CONTRACT_ID", "Invalid contract id", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, policy.ErrUnknownAction):
		return http.StatusBadRequest, "INVALID_ACTION", "Unknown action", nil
	case errors.Is(err, policy.ErrNotAuthor),
		errors.Is(err, policy.ErrSelfAction),
		errors.Is(err, policy.ErrNotTrackChange),
		errors.Is(err, policy.ErrRoleNotAllowed),
		errors.Is(err, policy.ErrMissingIdentity):
		return http.StatusForbidden, "FORBIDDEN", policy.Message(err), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
