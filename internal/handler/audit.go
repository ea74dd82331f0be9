package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ragworks/raggate/internal/middleware"
	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/apperrors"
	"github.com/ragworks/raggate/internal/policy"
)

// AuditLister serves recent audit records. The in-memory buffer backs it by
// default; the store-backed lister is used when persistence is configured.
type AuditLister interface {
	List(tenantID string, limit int) []*model.AuditRecord
}

// StoreLister is the durable variant backed by the relational store.
type StoreLister interface {
	ListAudit(ctx context.Context, tenantID string, limit int) ([]*model.AuditRecord, error)
}

type AuditHandler struct {
	engine *policy.Engine
	buffer AuditLister
	store  StoreLister
}

func NewAuditHandler(engine *policy.Engine, buffer AuditLister, store StoreLister) *AuditHandler {
	return &AuditHandler{engine: engine, buffer: buffer, store: store}
}

// List returns the caller's tenant audit trail, newest first. Admin role
// required; members get the same generic denial as any policy rejection.
func (h *AuditHandler) List(c *gin.Context) {
	tctx, ok := middleware.TenantFromContext(c)
	if !ok {
		c.Error(apperrors.NewGeneric(apperrors.ErrAuthFailed, errors.New("missing tenant context")))
		return
	}
	if !h.engine.Authorize(tctx.Role(), "audit:list") {
		c.Error(apperrors.NewGeneric(apperrors.ErrPolicyDenied, errors.New("audit listing requires admin role")))
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	// Listing is always scoped to the caller's own tenant. There is no
	// cross-tenant view, not even for admins.
	if h.store != nil {
		records, err := h.store.ListAudit(c.Request.Context(), tctx.TenantID(), limit)
		if err != nil {
			c.Error(apperrors.NewGeneric(apperrors.ErrInternal, err))
			return
		}
		c.JSON(http.StatusOK, records)
		return
	}
	c.JSON(http.StatusOK, h.buffer.List(tctx.TenantID(), limit))
}
