package app

import (
	"errors"
	"fmt"
	"net/http"
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

// Is matches any DomainError carrying the same code, so callers can compare
// against the sentinels below with errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrNotFound                 = domainError(http.StatusNotFound, "NOT_FOUND", "not found", nil)
	ErrRoleNotAuthorized        = domainError(http.StatusForbidden, "ROLE_NOT_AUTHORIZED", "role not authorized", nil)
	ErrPreconditionNotMet       = domainError(http.StatusConflict, "PRECONDITION_NOT_MET", "precondition not met", nil)
	ErrCriteriaIncomplete       = domainError(http.StatusConflict, "CRITERIA_INCOMPLETE", "success criteria incomplete", nil)
	ErrAlreadyResolved          = domainError(http.StatusOK, "ALREADY_RESOLVED", "request already resolved", nil)
	ErrAlreadyAccepted          = domainError(http.StatusConflict, "ALREADY_ACCEPTED", "invitation already accepted", nil)
	ErrExpired                  = domainError(http.StatusGone, "EXPIRED", "invitation expired", nil)
	ErrInvalidToken             = domainError(http.StatusForbidden, "INVALID_TOKEN", "invitation token invalid", nil)
	ErrUsernameMismatch         = domainError(http.StatusForbidden, "USERNAME_MISMATCH", "invitation is for a different user", nil)
	ErrConversationAlreadyBound = domainError(http.StatusConflict, "CONVERSATION_ALREADY_BOUND", "conversation already bound to another mission", nil)
	ErrUnbound                  = domainError(http.StatusForbidden, "UNBOUND", "conversation is not bound to a mission", nil)
	ErrValidation               = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid input", nil)
)

// fail returns a copy of sentinel with a specific message and details.
func fail(sentinel *DomainError, message string, details any) *DomainError {
	return domainError(sentinel.Status, sentinel.Code, message, details)
}

func notFound(what string) *DomainError {
	return fail(ErrNotFound, what+" not found", nil)
}

func invalid(message string) *DomainError {
	return fail(ErrValidation, message, nil)
}
