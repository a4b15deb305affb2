package http

import (
	"net/http"
	"time"
)

// SystemStatus is the health snapshot served at GET /api/status.
type SystemStatus struct {
	SchedulerRunning  bool   `json:"schedulerRunning"`
	DatabaseConnected bool   `json:"databaseConnected"`
	TasksCount        int    `json:"tasksCount"`
	EnabledTasksCount int    `json:"enabledTasksCount"`
	PendingExecutions int    `json:"pendingExecutions"`
	RecentErrors      int    `json:"recentErrors"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := SystemStatus{
		SchedulerRunning: s.scheduler.IsRunning(),
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
	}

	if err := s.store.Ping(ctx); err == nil {
		status.DatabaseConnected = true
	}

	total, enabled, err := s.store.CountTasks(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	status.TasksCount, status.EnabledTasksCount = total, enabled

	if status.PendingExecutions, err = s.store.PendingExecutionCount(ctx); err != nil {
		writeError(w, err)
		return
	}
	if status.RecentErrors, err = s.store.RecentErrorCount(ctx, 24); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
