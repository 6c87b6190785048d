package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReportSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/worker/callback" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if token := r.Header.Get("X-Worker-Token"); token != "secret" {
			t.Errorf("unexpected token header %s", token)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["deploymentId"] != "dep-1" || payload["status"] != "DEPLOYED" {
			t.Errorf("unexpected payload %v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"applied"}`))
	}))
	defer srv.Close()

	reporter, err := NewReporter(srv.URL+"/", " secret ", nil)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	err = reporter.Report(context.Background(), Report{DeploymentID: "dep-1", ProjectID: "proj-1", Status: StatusDeployed})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
}

func TestReportMapsStatusCodes(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		reporter, err := NewReporter(srv.URL, "secret", &http.Client{Timeout: time.Second})
		if err != nil {
			srv.Close()
			t.Fatalf("new reporter: %v", err)
		}
		err = reporter.Report(context.Background(), Report{DeploymentID: "d", ProjectID: "p", Status: StatusFailed})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestReportRejectsUserStatuses(t *testing.T) {
	reporter, err := NewReporter("https://api.example.com", "secret", nil)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	err = reporter.Report(context.Background(), Report{DeploymentID: "d", ProjectID: "p", Status: "QUEUED"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestNewReporterRequiresToken(t *testing.T) {
	if _, err := NewReporter("https://api.example.com", " ", nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}
