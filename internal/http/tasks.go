package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/automator/internal/executor"
	"github.com/nextlevelbuilder/automator/internal/schedule"
	"github.com/nextlevelbuilder/automator/internal/store"
)

func taskID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, invalidf("invalid task id %q", r.PathValue("id"))
	}
	return id, nil
}

type taskRequest struct {
	TemplateID    string            `json:"templateId"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Params        store.ParamValues `json:"params"`
	ScheduleType  string            `json:"scheduleType"`
	ScheduleValue string            `json:"scheduleValue"`
	Credentials   store.StringList  `json:"credentials"`
	Enabled       *bool             `json:"enabled"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{TemplateID: q.Get("templateId")}
	if v := q.Get("enabled"); v != "" {
		enabled := v == "true"
		filter.Enabled = &enabled
	}
	if q.Get("hasErrors") == "true" {
		filter.HasErrorsLast24 = true
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, invalidf("name is required"))
		return
	}
	if err := schedule.Validate(req.ScheduleType, req.ScheduleValue); err != nil {
		writeError(w, invalidf("%s", err))
		return
	}

	template, err := s.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		writeError(w, err)
		return
	}
	if problems := executor.ValidateParams(template.ParamsSchema, req.Params); len(problems) > 0 {
		writeError(w, invalidf("%s", strings.Join(problems, "; ")))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	task := &store.Task{
		TemplateID:    req.TemplateID,
		Name:          req.Name,
		Description:   req.Description,
		Params:        req.Params,
		ScheduleType:  req.ScheduleType,
		ScheduleValue: req.ScheduleValue,
		Credentials:   req.Credentials,
		Enabled:       enabled,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		writeError(w, err)
		return
	}
	if err := s.scheduler.RegisterTask(ctx, task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Name          *string            `json:"name"`
		Description   *string            `json:"description"`
		Params        *store.ParamValues `json:"params"`
		ScheduleType  *string            `json:"scheduleType"`
		ScheduleValue *string            `json:"scheduleValue"`
		Credentials   *store.StringList  `json:"credentials"`
		Enabled       *bool              `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Validate the schedule pair that would result from the patch.
	schedType, schedValue := current.ScheduleType, current.ScheduleValue
	if req.ScheduleType != nil {
		schedType = *req.ScheduleType
	}
	if req.ScheduleValue != nil {
		schedValue = *req.ScheduleValue
	}
	if err := schedule.Validate(schedType, schedValue); err != nil {
		writeError(w, invalidf("%s", err))
		return
	}

	if req.Params != nil {
		template, err := s.store.GetTemplate(ctx, current.TemplateID)
		if err != nil {
			writeError(w, err)
			return
		}
		if problems := executor.ValidateParams(template.ParamsSchema, *req.Params); len(problems) > 0 {
			writeError(w, invalidf("%s", strings.Join(problems, "; ")))
			return
		}
	}

	task, err := s.store.UpdateTask(ctx, id, store.TaskPatch{
		Name:          req.Name,
		Description:   req.Description,
		Params:        req.Params,
		ScheduleType:  req.ScheduleType,
		ScheduleValue: req.ScheduleValue,
		Credentials:   req.Credentials,
		Enabled:       req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.scheduler.UpdateTaskSchedule(ctx, task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.scheduler.UnregisterTask(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	enabled, err := s.store.ToggleTask(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if enabled {
		if err := s.scheduler.RegisterTask(ctx, task); err != nil {
			writeError(w, err)
			return
		}
	} else {
		s.scheduler.UnregisterTask(ctx, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		TimeoutMs int `json:"timeoutMs"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := s.executor.Run(r.Context(), id, executor.RunOptions{TimeoutMs: req.TimeoutMs})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     result.Status == store.StatusSuccess,
		"executionId": result.ExecutionID,
		"status":      result.Status,
		"output":      result.Output,
		"error":       result.Error,
		"durationMs":  result.DurationMs,
	})
}

func (s *Server) handlePreflightTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := s.executor.Preflight(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
