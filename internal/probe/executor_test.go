package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"probewatch/internal/model"
)

func TestExecutor_SuccessOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	exec := NewExecutor()
	job := model.NewProbeJob(1, 10, "gpt-4o", model.EndpointChat, srv.URL, "sk-test", nil, "", time.Now())
	req, err := BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}

	outcome := exec.Execute(context.Background(), job, req)
	if outcome.Status != model.ProbeStatusSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.HTTPStatus == nil || *outcome.HTTPStatus != 200 {
		t.Fatalf("expected HTTPStatus 200, got %+v", outcome.HTTPStatus)
	}
}

func TestExecutor_UpstreamErrorStatusIsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	exec := NewExecutor()
	job := model.NewProbeJob(1, 10, "gpt-4o", model.EndpointChat, srv.URL, "sk-test", nil, "", time.Now())
	req, err := BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}

	outcome := exec.Execute(context.Background(), job, req)
	if outcome.Status != model.ProbeStatusFail {
		t.Fatalf("expected fail for a 500 response, got %+v", outcome)
	}
	if outcome.ErrorMessage == "" {
		t.Fatal("expected a non-empty error message on failure")
	}
}

func TestExecutor_TransportErrorNeverReturnsGoError(t *testing.T) {
	exec := NewExecutor()
	job := model.NewProbeJob(1, 10, "gpt-4o", model.EndpointChat, "http://127.0.0.1:1", "sk-test", nil, "", time.Now())
	req, err := BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}

	outcome := exec.Execute(context.Background(), job, req)
	if outcome == nil {
		t.Fatal("Execute must never return nil, even on a connection failure")
	}
	if outcome.Status != model.ProbeStatusFail {
		t.Fatalf("expected fail for an unreachable upstream, got %+v", outcome)
	}
}

func TestExecutor_InvalidProxyURLFailsGracefully(t *testing.T) {
	exec := NewExecutor()
	job := model.NewProbeJob(1, 10, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "not a url::", time.Now())
	req, err := BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}

	outcome := exec.Execute(context.Background(), job, req)
	if outcome.Status != model.ProbeStatusFail {
		t.Fatalf("expected fail for an unsupported proxy scheme, got %+v", outcome)
	}
}

func TestExecutor_Socks4ProxyIsRejectedWithAClearError(t *testing.T) {
	exec := NewExecutor()
	job := model.NewProbeJob(1, 10, "gpt-4o", model.EndpointChat, "http://upstream", "sk-test", nil, "socks4://127.0.0.1:1080", time.Now())
	req, err := BuildProbe(job.BaseURL, job.APIKey, job.ModelName, job.EndpointKind)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}

	outcome := exec.Execute(context.Background(), job, req)
	if outcome.Status != model.ProbeStatusFail {
		t.Fatalf("expected fail for an unimplemented socks4 proxy, got %+v", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "socks4") {
		t.Errorf("expected the error to name the unsupported scheme, got %q", outcome.ErrorMessage)
	}
}
