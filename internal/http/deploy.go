package httpx

import (
	"net/http"
	"strconv"

	"github.com/splax/pado/internal/service/deploy"
)

func (r *Router) handleDeployAction(w http.ResponseWriter, req *http.Request, projectID, action string) {
	if action != "start" && action != "stop" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	var (
		result *deploy.Result
		err    error
	)
	if action == "start" {
		result, err = r.deploy.Start(req.Context(), caller, projectID)
	} else {
		result, err = r.deploy.Stop(req.Context(), caller, projectID)
	}
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	deployments, err := r.deploy.List(req.Context(), caller, projectID, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (r *Router) handleLatestDeployment(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	caller, ok := r.callerFromRequest(w, req)
	if !ok {
		return
	}
	deployment, err := r.deploy.Latest(req.Context(), caller, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

// handleWorkerCallback applies a status report from a deployment worker.
func (r *Router) handleWorkerCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyWorkerToken(w, req) {
		return
	}
	var payload deploy.Report
	if !decodeJSON(w, req, &payload) {
		return
	}
	if err := r.deploy.Advance(req.Context(), payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}
