package httpx

import (
	"net/http"

	"github.com/splax/pado/internal/service/graph"
	"github.com/splax/pado/internal/service/project"
)

func (r *Router) handleCatalog(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	entries, err := r.graph.Catalog(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.List(req.Context(), caller)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		var payload project.CreateInput
		if !decodeJSON(w, req, &payload) {
			return
		}
		created, err := r.projects.Create(req.Context(), caller, payload)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		detail, err := r.projects.Detail(req.Context(), caller, projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), caller, projectID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateComponent(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	var payload graph.ComponentInput
	if !decodeJSON(w, req, &payload) {
		return
	}
	created, err := r.graph.CreateComponent(req.Context(), caller, projectID, payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleDeleteComponent(w http.ResponseWriter, req *http.Request, projectID, componentID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	if err := r.graph.DeleteComponent(req.Context(), caller, projectID, componentID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleUpdateSetting(w http.ResponseWriter, req *http.Request, projectID, componentID string) {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	var payload graph.SettingInput
	if !decodeJSON(w, req, &payload) {
		return
	}
	setting, err := r.graph.UpdateSetting(req.Context(), caller, projectID, componentID, payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (r *Router) handleCreateConnection(w http.ResponseWriter, req *http.Request, projectID, sourceID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	var payload graph.ConnectionInput
	if !decodeJSON(w, req, &payload) {
		return
	}
	conn, err := r.graph.CreateConnection(req.Context(), caller, projectID, sourceID, payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (r *Router) handleDeleteConnection(w http.ResponseWriter, req *http.Request, projectID, sourceID, connectionID string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	if err := r.graph.DeleteConnection(req.Context(), caller, projectID, sourceID, connectionID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
