package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/homeledger/internal/outcome"
)

// respond writes the two-shape reply. A non-nil err is also attached to the
// gin context so the request logger can classify it.
func respond(c *gin.Context, result outcome.Result, err error) {
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	_ = c.Error(err)
	if result.OK || result.ErrorKind == "" {
		result = outcome.Failure(err)
	}
	c.AbortWithStatusJSON(statusFor(result.ErrorKind), result)
}

func respondError(c *gin.Context, err error) {
	respond(c, outcome.Result{}, err)
}

// statusFor maps a failure kind to its HTTP status. Every kind other than
// malformed input or a rejected or throttled withdrawal is a 500, so the event source
// keeps the run unresolved.
func statusFor(kind outcome.Kind) int {
	switch kind {
	case outcome.KindInvalidRequest, outcome.KindInvalidAmount:
		return http.StatusBadRequest
	case outcome.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case outcome.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(message string) error {
	return outcome.New(outcome.KindInvalidRequest, message)
}

func classifyErrorForLog(err error) string {
	if err == nil {
		return ""
	}
	return string(outcome.KindOf(err))
}
