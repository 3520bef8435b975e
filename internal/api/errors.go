package api

import (
	"errors"
	"net/http"

	"querydesk/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// jobErrorBody is returned by the execute endpoints. It carries a failed
// placeholder job so clients polling a job handle see the failure uniformly.
type jobErrorBody struct {
	Job     jobJSON `json:"job"`
	Message string  `json:"message"`
}

func placeholderJob(message string) jobJSON {
	return jobJSON{State: domain.JobFailed, Error: &message}
}

// publicMessage hides internal error details from clients.
func publicMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
