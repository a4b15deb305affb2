package http

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/nextlevelbuilder/automator/internal/store"
)

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	credentials, err := s.store.ListCredentials(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if credentials == nil {
		credentials = []store.Credential{}
	}
	writeJSON(w, http.StatusOK, credentials)
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !store.ValidCredentialName(req.Name) {
		writeError(w, invalidf("invalid credential name %q: must match [A-Z0-9_]+", req.Name))
		return
	}

	credential := &store.Credential{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
	}

	var err error
	if req.Value != "" {
		var blob string
		blob, err = s.vault.Encrypt([]byte(req.Value))
		if err != nil {
			writeError(w, err)
			return
		}
		err = s.store.CreateCredentialWithValue(r.Context(), credential, blob)
	} else {
		err = s.store.CreateCredential(r.Context(), credential)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credential)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, invalidf("invalid credential id %q", r.PathValue("id")))
		return
	}

	credential, err := s.store.GetCredential(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	inUse, err := s.store.CredentialsInUse(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if slices.Contains(inUse, credential.Name) {
		writeError(w, fmt.Errorf("%w: credential %s is referenced by tasks",
			store.ErrIntegrity, credential.Name))
		return
	}

	if err := s.store.DeleteCredential(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCredentialValue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value == "" {
		writeError(w, invalidf("value is required"))
		return
	}

	blob, err := s.vault.Encrypt([]byte(req.Value))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateCredentialValue(r.Context(), name, blob); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "hasValue": true})
}

func (s *Server) handleClearCredentialValue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.ClearCredentialValue(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "hasValue": false})
}
