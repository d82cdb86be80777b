package app

import (
	"errors"
	"fmt"
	"net/http"

	"pitchdesk/api/internal/locks"
	"pitchdesk/api/internal/proposal"
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
	if errors.Is(err, proposal.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	var validationErr *proposal.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Proposal is invalid", validationErr.Fields
	}
	if errors.Is(err, locks.ErrLockTimeout) {
		return http.StatusConflict, "BUSY", "Proposal is being changed by another request, retry shortly", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
