package model

import (
	"testing"
	"time"
)

func TestDeriveHealth(t *testing.T) {
	cases := []struct {
		name       string
		endpoints  []*ModelEndpoint
		wantHealth HealthStatus
		wantValid  bool
		wantBool   bool
	}{
		{name: "no endpoints is unknown", endpoints: nil, wantHealth: HealthUnknown, wantValid: false},
		{
			name: "all success is healthy",
			endpoints: []*ModelEndpoint{
				{Status: ProbeStatusSuccess}, {Status: ProbeStatusSuccess},
			},
			wantHealth: HealthHealthy, wantValid: true, wantBool: true,
		},
		{
			name: "all failed is unhealthy",
			endpoints: []*ModelEndpoint{
				{Status: ProbeStatusFail}, {Status: ProbeStatusFail},
			},
			wantHealth: HealthUnhealthy, wantValid: true, wantBool: false,
		},
		{
			name: "mixed is partial and maps lastStatus true",
			endpoints: []*ModelEndpoint{
				{Status: ProbeStatusSuccess}, {Status: ProbeStatusFail},
			},
			wantHealth: HealthPartial, wantValid: true, wantBool: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			health, last := DeriveHealth(tc.endpoints)
			if health != tc.wantHealth {
				t.Errorf("health = %v, want %v", health, tc.wantHealth)
			}
			if last.Valid != tc.wantValid {
				t.Errorf("lastStatus.Valid = %v, want %v", last.Valid, tc.wantValid)
			}
			if tc.wantValid && last.Bool != tc.wantBool {
				t.Errorf("lastStatus.Bool = %v, want %v", last.Bool, tc.wantBool)
			}
		})
	}
}

func TestTruncateResponseContentAndErrorMessage(t *testing.T) {
	short := "short body"
	if got := TruncateResponseContent(short); got != short {
		t.Errorf("short content should be unchanged, got %q", got)
	}

	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'x'
	}
	truncated := TruncateResponseContent(string(long))
	if len(truncated) != maxResponseContentBytes {
		t.Errorf("expected response content capped at %d bytes, got %d", maxResponseContentBytes, len(truncated))
	}

	longErr := make([]byte, 1000)
	for i := range longErr {
		longErr[i] = 'e'
	}
	truncatedErr := TruncateErrorMessage(string(longErr))
	if len(truncatedErr) != maxLogErrorBytes {
		t.Errorf("expected error message capped at %d bytes, got %d", maxLogErrorBytes, len(truncatedErr))
	}
}

func TestNewProbeJobAssignsIDAndDefaults(t *testing.T) {
	job := NewProbeJob(1, 2, "gpt-4o", EndpointChat, "http://upstream", "sk-test", nil, "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if job.Attempt != 1 {
		t.Errorf("expected a freshly built job to start at attempt 1, got %d", job.Attempt)
	}
	if job.TraceID == "" {
		t.Error("expected a non-empty trace id")
	}
	if job.ID == "" {
		t.Error("expected a non-empty display id")
	}
}
