package api

import (
	"net/http"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var kindStatus = map[service.Kind]int{
	service.KindNotFound:         http.StatusNotFound,
	service.KindInvalidState:     http.StatusConflict,
	service.KindUnauthorized:     http.StatusForbidden,
	service.KindInvalidSignature: http.StatusUnauthorized,
	service.KindInvalidInput:     http.StatusBadRequest,
	service.KindGateway:          http.StatusBadGateway,
	service.KindPersistence:      http.StatusInternalServerError,
}

func statusFor(err error) int {
	if status, ok := kindStatus[service.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders a service error. Internal failures keep their cause
// out of the response body.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
		c.JSON(status, gin.H{"error": http.StatusText(status), "kind": service.KindOf(err)})
		return
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": service.KindOf(err)})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
