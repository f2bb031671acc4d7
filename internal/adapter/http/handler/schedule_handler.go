package handler

import (
	"errors"
	"io"
	"net/http"

	"sentimatrix-automation/internal/adapter/http/dto"
	"sentimatrix-automation/internal/adapter/http/middleware"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/pkg/apperror"
	"sentimatrix-automation/pkg/response"

	"github.com/gin-gonic/gin"
)

// ScheduleHandler handles the per-project schedule endpoints.
type ScheduleHandler struct {
	svc ports.ScheduleService
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(svc ports.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

// List handles GET /api/v1/schedules.
func (h *ScheduleHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	schedules, err := h.svc.List(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedules)
}

// Create handles POST /api/v1/schedules.
func (h *ScheduleHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidSchedule(err.Error()))
		return
	}
	dto.TrimStrings(&req)

	s, err := h.svc.Create(c.Request.Context(), userID, req.ToInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// Get handles GET /api/v1/schedules/project/:project_id.
func (h *ScheduleHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	s, err := h.svc.Get(c.Request.Context(), userID, c.Param("project_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Update handles PUT /api/v1/schedules/project/:project_id.
func (h *ScheduleHandler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidSchedule(err.Error()))
		return
	}
	dto.TrimStrings(&req)

	s, err := h.svc.Update(c.Request.Context(), userID, c.Param("project_id"), req.ToUpdate())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Delete handles DELETE /api/v1/schedules/project/:project_id.
func (h *ScheduleHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("project_id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Toggle handles POST /api/v1/schedules/project/:project_id/toggle.
// Without a body the current state is flipped.
func (h *ScheduleHandler) Toggle(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	projectID := c.Param("project_id")

	enabled, err := bindToggle(c)
	if err != nil {
		response.Error(c, apperror.ErrInvalidSchedule(err.Error()))
		return
	}
	if enabled == nil {
		current, err := h.svc.Get(c.Request.Context(), userID, projectID)
		if err != nil {
			response.Error(c, err)
			return
		}
		flipped := !current.Enabled
		enabled = &flipped
	}

	s, err := h.svc.SetEnabled(c.Request.Context(), userID, projectID, *enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// RunNow handles POST /api/v1/schedules/project/:project_id/run-now.
func (h *ScheduleHandler) RunNow(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	projectID := c.Param("project_id")

	jobID, err := h.svc.RunNow(c.Request.Context(), userID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.RunNowResponse{ProjectID: projectID, JobID: jobID})
}

// History handles GET /api/v1/schedules/project/:project_id/history.
func (h *ScheduleHandler) History(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	page := q.Params()

	items, total, err := h.svc.History(c.Request.Context(), userID, c.Param("project_id"), page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, items, page.Page, page.PageSize, total)
}

// bindToggle reads the optional toggle body. nil means "flip".
func bindToggle(c *gin.Context) (*bool, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, nil
	}
	var req dto.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return req.Enabled, nil
}
