package handler

import (
	"net/http"
	"testing"
	"time"

	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"
	"sentimatrix-automation/internal/core/ports/mocks"
	"sentimatrix-automation/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

var projectParam = gin.Params{{Key: "project_id", Value: "proj-1"}}

func sampleSchedule(enabled bool) *domain.Schedule {
	at := "09:00"
	next := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	s := &domain.Schedule{
		ID:        uuid.New(),
		ProjectID: "proj-1",
		UserID:    "user-1",
		Frequency: domain.FrequencyDaily,
		Time:      &at,
		Timezone:  "UTC",
		Enabled:   enabled,
	}
	if enabled {
		s.NextRun = &next
	}
	return s
}

func TestScheduleCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	h := NewScheduleHandler(svc)

	at := "09:00"
	svc.EXPECT().Create(gomock.Any(), "user-1", ports.ScheduleInput{
		ProjectID: "proj-1",
		Frequency: domain.FrequencyDaily,
		Time:      &at,
		Timezone:  "Europe/Berlin",
	}).Return(sampleSchedule(true), nil)

	c, w := newContext(http.MethodPost, "/api/v1/schedules", map[string]interface{}{
		"project_id": " proj-1 ",
		"frequency":  "daily",
		"time":       "09:00",
		"timezone":   "Europe/Berlin",
	}, nil)
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "proj-1", data["project_id"])
	assert.Equal(t, "2026-03-03T09:00:00Z", data["next_run"])
}

func TestScheduleCreate_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty", map[string]interface{}{}},
		{"bad frequency", map[string]interface{}{"project_id": "p", "frequency": "yearly"}},
		{"bad clock", map[string]interface{}{"project_id": "p", "frequency": "daily", "time": "25:00"}},
		{"day of month 31", map[string]interface{}{"project_id": "p", "frequency": "monthly", "time": "09:00", "day_of_month": 31}},
		{"unknown timezone", map[string]interface{}{"project_id": "p", "frequency": "hourly", "timezone": "Nowhere/Land"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			h := NewScheduleHandler(mocks.NewMockScheduleService(ctrl))
			c, w := newContext(http.MethodPost, "/", tt.body, nil)
			h.Create(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "SCH_001", decodeBody(t, w)["error_code"])
		})
	}
}

func TestScheduleCreate_Conflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().Create(gomock.Any(), "user-1", gomock.Any()).Return(nil, apperror.ErrScheduleExists())

	c, w := newContext(http.MethodPost, "/", map[string]interface{}{"project_id": "proj-1", "frequency": "hourly"}, nil)
	NewScheduleHandler(svc).Create(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SCH_003", decodeBody(t, w)["error_code"])
}

func TestScheduleGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().Get(gomock.Any(), "user-1", "proj-1").Return(nil, apperror.ErrScheduleNotFound())

	c, w := newContext(http.MethodGet, "/", nil, projectParam)
	NewScheduleHandler(svc).Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleUpdate_PartialFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	weekly := domain.FrequencyWeekly
	day := 1
	svc.EXPECT().Update(gomock.Any(), "user-1", "proj-1", ports.ScheduleUpdate{
		Frequency: &weekly,
		DayOfWeek: &day,
	}).Return(sampleSchedule(true), nil)

	c, w := newContext(http.MethodPut, "/", map[string]interface{}{"frequency": "weekly", "day_of_week": 1}, projectParam)
	NewScheduleHandler(svc).Update(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().Delete(gomock.Any(), "user-1", "proj-1").Return(nil)

	c, w := newContext(http.MethodDelete, "/", nil, projectParam)
	NewScheduleHandler(svc).Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestScheduleToggle_FlipsWithoutBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().Get(gomock.Any(), "user-1", "proj-1").Return(sampleSchedule(true), nil)
	svc.EXPECT().SetEnabled(gomock.Any(), "user-1", "proj-1", false).Return(sampleSchedule(false), nil)

	c, w := newContext(http.MethodPost, "/", nil, projectParam)
	NewScheduleHandler(svc).Toggle(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, false, data["enabled"])
	assert.Nil(t, data["next_run"])
}

func TestScheduleToggle_ExplicitValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().SetEnabled(gomock.Any(), "user-1", "proj-1", true).Return(sampleSchedule(true), nil)

	c, w := newContext(http.MethodPost, "/", map[string]interface{}{"enabled": true}, projectParam)
	NewScheduleHandler(svc).Toggle(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleRunNow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().RunNow(gomock.Any(), "user-1", "proj-1").Return("job-9", nil)

	c, w := newContext(http.MethodPost, "/", nil, projectParam)
	NewScheduleHandler(svc).RunNow(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "job-9", data["job_id"])
}

func TestScheduleRunNow_TriggerErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
		want string
	}{
		{apperror.ErrNoActiveTargets(), http.StatusUnprocessableEntity, "JOB_001"},
		{apperror.ErrJobAlreadyRunning(), http.StatusConflict, "JOB_002"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			svc := mocks.NewMockScheduleService(ctrl)
			svc.EXPECT().RunNow(gomock.Any(), "user-1", "proj-1").Return("", tt.err)

			c, w := newContext(http.MethodPost, "/", nil, projectParam)
			NewScheduleHandler(svc).RunNow(c)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.want, decodeBody(t, w)["error_code"])
		})
	}
}

func TestScheduleHistory_Paged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockScheduleService(ctrl)
	svc.EXPECT().History(gomock.Any(), "user-1", "proj-1", ports.PageParams{Page: 2, PageSize: 5}).
		Return([]domain.ScheduleExecution{{ID: uuid.New(), ProjectID: "proj-1", Status: domain.RunStatusCompleted}}, int64(6), nil)

	c, w := newContext(http.MethodGet, "/?page=2&page_size=5", nil, projectParam)
	NewScheduleHandler(svc).History(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	meta := resp["meta"].(map[string]interface{})
	assert.Equal(t, float64(2), meta["page"])
	assert.Equal(t, float64(6), meta["total"])
	assert.Len(t, resp["data"], 1)
}

func TestScheduleList_Unauthenticated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c, w := newContext(http.MethodGet, "/", nil, nil)
	c.Set("user_id", "")
	NewScheduleHandler(mocks.NewMockScheduleService(ctrl)).List(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
