package handler

import (
	"net/http"

	"sentimatrix-automation/internal/adapter/http/dto"
	"sentimatrix-automation/internal/adapter/http/middleware"
	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/pkg/apperror"
	"sentimatrix-automation/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WebhookHandler handles webhook subscription and delivery-log endpoints.
type WebhookHandler struct {
	svc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Events handles GET /api/v1/webhook-events.
func (h *WebhookHandler) Events(c *gin.Context) {
	response.OK(c, domain.AvailableEvents())
}

// List handles GET /api/v1/webhooks?project_id=.
func (h *WebhookHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var projectID *string
	if p := c.Query("project_id"); p != "" {
		projectID = &p
	}

	webhooks, err := h.svc.List(c.Request.Context(), userID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.WebhookResponse, 0, len(webhooks))
	for i := range webhooks {
		out = append(out, dto.NewWebhookResponse(&webhooks[i]))
	}
	response.OK(c, out)
}

// Create handles POST /api/v1/webhooks.
func (h *WebhookHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidWebhook(err.Error()))
		return
	}
	dto.TrimStrings(&req)

	w, err := h.svc.Create(c.Request.Context(), userID, req.ToInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewWebhookResponse(w))
}

// Get handles GET /api/v1/webhooks/:id.
func (h *WebhookHandler) Get(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	w, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWebhookResponse(w))
}

// Update handles PUT /api/v1/webhooks/:id.
func (h *WebhookHandler) Update(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidWebhook(err.Error()))
		return
	}
	dto.TrimStrings(&req)

	w, err := h.svc.Update(c.Request.Context(), userID, id, req.ToUpdate())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWebhookResponse(w))
}

// Delete handles DELETE /api/v1/webhooks/:id.
func (h *WebhookHandler) Delete(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Toggle handles POST /api/v1/webhooks/:id/toggle.
func (h *WebhookHandler) Toggle(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	enabled, err := bindToggle(c)
	if err != nil {
		response.Error(c, apperror.ErrInvalidWebhook(err.Error()))
		return
	}
	if enabled == nil {
		current, err := h.svc.Get(c.Request.Context(), userID, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		flipped := !current.Enabled
		enabled = &flipped
	}

	w, err := h.svc.SetEnabled(c.Request.Context(), userID, id, *enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWebhookResponse(w))
}

// Test handles POST /api/v1/webhooks/:id/test. The ping is not logged as a
// delivery.
func (h *WebhookHandler) Test(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	res, err := h.svc.Test(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ListDeliveries handles GET /api/v1/webhooks/:id/deliveries.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}

	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	page := q.Params()

	items, total, err := h.svc.ListDeliveries(c.Request.Context(), userID, id, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, items, page.Page, page.PageSize, total)
}

// GetDelivery handles GET /api/v1/webhooks/:id/deliveries/:delivery_id.
func (h *WebhookHandler) GetDelivery(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}
	deliveryID, err := uuid.Parse(c.Param("delivery_id"))
	if err != nil {
		response.Error(c, apperror.ErrDeliveryNotFound())
		return
	}

	detail, err := h.svc.GetDelivery(c.Request.Context(), userID, id, deliveryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail)
}

// RetryDelivery handles POST /api/v1/webhooks/:id/deliveries/:delivery_id/retry.
func (h *WebhookHandler) RetryDelivery(c *gin.Context) {
	userID, id, ok := webhookTarget(c)
	if !ok {
		return
	}
	deliveryID, err := uuid.Parse(c.Param("delivery_id"))
	if err != nil {
		response.Error(c, apperror.ErrDeliveryNotFound())
		return
	}

	d, err := h.svc.RetryDelivery(c.Request.Context(), userID, id, deliveryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, d)
}

// webhookTarget resolves the caller and the :id path parameter, writing the
// error response itself when either is missing.
func webhookTarget(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrWebhookNotFound())
		return "", uuid.Nil, false
	}
	return userID, id, true
}
