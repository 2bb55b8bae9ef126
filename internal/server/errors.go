package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/remote"
)

// toHTTPStatus maps a domain error code onto the response status. The
// client maps statuses back; 4xx other than 401/403/408/429 are final.
func toHTTPStatus(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeAlreadyClockedIn,
		apperr.CodeNotClockedIn,
		apperr.CodeDuplicate,
		apperr.CodeCategoryConflict:
		return http.StatusConflict
	case apperr.CodeSyncPermanent:
		return http.StatusUnprocessableEntity
	case apperr.CodeSyncTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(code apperr.Code, msg string) remote.ErrorBody {
	var e remote.ErrorBody
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// apiErrFrom renders err as the error envelope. Uncoded errors are internal
// and their text is not exposed.
func apiErrFrom(err error) remote.ErrorBody {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return errorBody(apperr.CodeInternal, "internal error")
	}
	e := errorBody(ae.Code, ae.Message)
	e.Error.Field = ae.Field
	e.Error.Details = ae.Details
	return e
}

func writeError(c *gin.Context, err error) {
	status := toHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, apiErrFrom(err))
}
