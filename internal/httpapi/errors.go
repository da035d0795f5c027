package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeErrorStatus(c *gin.Context, status int, message, code, param string) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: errorBody{
		Message: msg,
		Code:    strings.TrimSpace(code),
		Param:   strings.TrimSpace(param),
	}})
}

// writeError maps the error taxonomy to HTTP statuses. Client errors carry a
// specific reason; server-side failures return a generic message and the
// detail stays in the log.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	id := RequestIDFromContext(c)
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		writeErrorStatus(c, http.StatusBadRequest, err.Error(), "invalid_request", "")
	case errors.Is(err, errs.ErrNotFound):
		writeErrorStatus(c, http.StatusNotFound, err.Error(), "not_found", "")
	case errors.Is(err, errs.ErrTransient):
		log.Error("subgraph store unavailable", "request_id", id, "error", err)
		writeErrorStatus(c, http.StatusBadGateway, "subgraph store unavailable", "upstream_unavailable", "")
	default:
		log.Error("request failed", "request_id", id, "error", err)
		writeErrorStatus(c, http.StatusInternalServerError, "internal server error", "server_error", "")
	}
}
