package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/service/deploy"
	"github.com/splax/pado/pkg/worker"
)

func TestWorkerReporterDrivesProjectToDeployed(t *testing.T) {
	env := setupRouter(t, nil)
	projectID := env.createProject(t, "shop")
	if rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/components", map[string]string{"resourceType": "EC2", "serviceType": "SPRING"}); rr.Code != http.StatusCreated {
		t.Fatalf("create component: %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/start", nil)
	var started deploy.Result
	decode(t, rr.Body, &started)

	server := httptest.NewServer(env.router)
	defer server.Close()
	reporter, err := worker.NewReporter(server.URL, testWorkerToken, server.Client())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()
	report := worker.Report{DeploymentID: started.DeploymentID, ProjectID: projectID}

	report.Status = worker.StatusDeployed
	if err := reporter.Report(ctx, report); !errors.Is(err, worker.ErrRejected) {
		t.Fatalf("expected skipped transition to be rejected, got %v", err)
	}
	for _, status := range []worker.Status{worker.StatusDeploying, worker.StatusDeployed} {
		report.Status = status
		if err := reporter.Report(ctx, report); err != nil {
			t.Fatalf("report %s: %v", status, err)
		}
	}
	if p, _ := env.store.Project(projectID); p.DeploymentStatus != domain.StatusDeployed {
		t.Fatalf("expected DEPLOYED, got %s", p.DeploymentStatus)
	}

	wrong, err := worker.NewReporter(server.URL, "not-the-token", server.Client())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	report.Status = worker.StatusFailed
	if err := wrong.Report(ctx, report); !errors.Is(err, worker.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
