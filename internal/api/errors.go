package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/agentcore/internal/domain"
)

// apiError is the {"error": {"code", "message"}} envelope spec §7 requires
// every non-2xx response to use. It maps a domain.Kind to an HTTP status
// without sniffing any message text.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func httpStatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindAgentNotFoundOnAppend:
		return http.StatusConflict
	case domain.KindInstanceAlreadyRunning:
		return http.StatusConflict
	case domain.KindCancelled:
		return http.StatusGone
	case domain.KindBackend, domain.KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the standard error envelope, deriving the HTTP
// status from its domain.Kind when it carries one and falling back to 500
// otherwise. It also records the error on the gin context so RequestLogger
// can log it without requiring every handler to log for itself.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var derr *domain.Error
	if errors.As(err, &derr) {
		c.AbortWithStatusJSON(httpStatusFor(derr.Kind), gin.H{
			"error": apiError{Code: string(derr.Kind), Message: derr.Message},
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": apiError{Code: "internal_error", Message: err.Error()},
	})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": apiError{Code: string(domain.KindValidation), Message: message},
	})
}
