package app

import (
	"net/http"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
)

const serverErrorMessage = "Server error"

// mapError translates a component failure into its transport form. No other
// layer deals in status codes.
func mapError(err error) (status int, code, message string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR", apperr.MessageOf(err, "Invalid request")
	case apperr.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND", apperr.MessageOf(err, "Not found")
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED", apperr.MessageOf(err, "Too many requests")
	case apperr.KindUpstream:
		return http.StatusInternalServerError, "UPSTREAM_ERROR", apperr.MessageOf(err, serverErrorMessage)
	case apperr.KindConfiguration:
		return http.StatusInternalServerError, "CONFIGURATION_ERROR", apperr.MessageOf(err, serverErrorMessage)
	}
	return http.StatusInternalServerError, "SERVER_ERROR", serverErrorMessage
}
