package handler

import (
	"errors"
	"net/http"

	"github.com/use-agent/scram/models"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response.
const statusClientClosedRequest = 499

// detailFor converts err to an API error, wrapping unknown errors as
// INTERNAL_ERROR.
func detailFor(err error) *models.ErrorDetail {
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		fe = models.NewFetchError(models.ErrCodeInternal, err.Error(), nil)
	}
	return fe.ToDetail()
}

// statusFor translates error codes to HTTP status codes.
func statusFor(err error) int {
	switch models.CodeOf(err) {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeCanceled:
		return statusClientClosedRequest // 499
	case models.ErrCodeNavigation, models.ErrCodeTransport:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput, models.ErrCodeInvalidHeader:
		return http.StatusBadRequest // 400
	case models.ErrCodeDecode:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeBrowserLaunch:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeModelLoad:
		return http.StatusUnprocessableEntity // 422
	default:
		return http.StatusInternalServerError // 500
	}
}
