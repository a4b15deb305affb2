package http

import (
	"net/http"

	"github.com/nextlevelbuilder/automator/internal/store"
)

type templateRequest struct {
	Name                string           `json:"name"`
	Description         string           `json:"description"`
	Category            string           `json:"category"`
	Code                string           `json:"code"`
	ParamsSchema        store.ParamDefs  `json:"paramsSchema"`
	RequiredCredentials store.StringList `json:"requiredCredentials"`
	SuggestedSchedule   string           `json:"suggestedSchedule"`
}

func (req *templateRequest) validate() error {
	if req.Name == "" {
		return invalidf("name is required")
	}
	if req.Code == "" {
		return invalidf("code is required")
	}
	for _, name := range req.RequiredCredentials {
		if !store.ValidCredentialName(name) {
			return invalidf("invalid credential name %q: must match [A-Z0-9_]+", name)
		}
	}
	return nil
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	if templates == nil {
		templates = []store.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	template := &store.Template{
		Name:                req.Name,
		Description:         req.Description,
		Category:            req.Category,
		Code:                req.Code,
		ParamsSchema:        req.ParamsSchema,
		RequiredCredentials: req.RequiredCredentials,
		SuggestedSchedule:   req.SuggestedSchedule,
	}
	if err := s.store.CreateTemplate(r.Context(), template); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := s.store.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	template := &store.Template{
		ID:                  r.PathValue("id"),
		Name:                req.Name,
		Description:         req.Description,
		Category:            req.Category,
		Code:                req.Code,
		ParamsSchema:        req.ParamsSchema,
		RequiredCredentials: req.RequiredCredentials,
		SuggestedSchedule:   req.SuggestedSchedule,
	}
	if err := s.store.UpdateTemplate(r.Context(), template); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
