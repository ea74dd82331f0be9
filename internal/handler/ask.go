package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ragworks/raggate/internal/middleware"
	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pipeline"
	"github.com/ragworks/raggate/internal/pkg/apperrors"
	"github.com/ragworks/raggate/internal/pkg/metrics"
)

type AskHandler struct {
	pipe *pipeline.Pipeline
}

func NewAskHandler(pipe *pipeline.Pipeline) *AskHandler {
	return &AskHandler{pipe: pipe}
}

// Ask is the single question-answering entrypoint. Tenancy comes from the
// verified context only; any tenant field a client smuggles into the body
// is not even parsed.
func (h *AskHandler) Ask(c *gin.Context) {
	tctx, ok := middleware.TenantFromContext(c)
	if !ok {
		metrics.RequestsTotal.WithLabelValues("auth_failed").Inc()
		c.Error(apperrors.NewGeneric(apperrors.ErrAuthFailed, errors.New("missing tenant context")))
		return
	}

	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RequestsTotal.WithLabelValues("invalid").Inc()
		c.Error(apperrors.NewGeneric(apperrors.ErrInvalidRequest, err))
		return
	}

	resp, err := h.pipe.Ask(c.Request.Context(), middleware.RequestIDFromContext(c), tctx, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		c.Error(err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(resp.Status).Inc()
	c.JSON(http.StatusOK, resp)
}
