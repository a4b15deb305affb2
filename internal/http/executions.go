package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/automator/internal/store"
)

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.ExecutionFilter
	if v := q.Get("taskId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, invalidf("invalid taskId %q", v))
			return
		}
		filter.TaskID = &id
	}
	filter.Status = q.Get("status")

	for param, dst := range map[string]**store.Time{
		"startDate": &filter.StartFrom,
		"endDate":   &filter.StartTo,
	} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, invalidf("invalid %s %q: expected RFC 3339", param, v))
			return
		}
		at := store.At(parsed)
		*dst = &at
	}

	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	rows, total, err := s.store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.Execution{}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   rows,
		"total":  total,
		"limit":  limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, invalidf("invalid execution id %q", r.PathValue("id")))
		return
	}
	execution, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}
