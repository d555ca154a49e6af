package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/errs"
)

// envelope is the JSON body shape of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}

// msgInvalidToken is the only detail a client ever gets for a rejected token.
const msgInvalidToken = "Invalid or expired token"

// statusFor maps a service-layer error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidCredential):
		return http.StatusUnauthorized, msgInvalidToken
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, errs.ErrCaptchaFailed):
		return http.StatusBadRequest, "reCAPTCHA verification failed"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "Resource already exists"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many failed attempts, try again later"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "Access denied. Insufficient privileges."
	case errors.Is(err, errs.ErrUnknownService), errors.Is(err, errs.ErrInactive):
		return http.StatusUnauthorized, "Invalid API key"
	case errors.Is(err, errs.ErrOriginForbidden):
		return http.StatusForbidden, "Origin not allowed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// validationMessage strips the sentinel prefix from a wrapped validation error.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), errs.ErrValidation.Error()+": ")
	if msg == "" || msg == errs.ErrValidation.Error() {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", zap.Error(err))
	} else {
		h.log.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	fail(c, status, msg)
}
