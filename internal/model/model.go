package model

import "time"

// HealthStatus is the derived, transaction-scoped aggregate health of a
// Model across its probed EndpointKinds.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthPartial   HealthStatus = "partial"
)

// EndpointKind enumerates the upstream surfaces a Model can be probed on.
type EndpointKind string

const (
	EndpointChat   EndpointKind = "chat"
	EndpointClaude EndpointKind = "claude"
	EndpointGemini EndpointKind = "gemini"
	EndpointCodex  EndpointKind = "codex"
	EndpointImage  EndpointKind = "image"
)

// AllEndpointKinds lists every kind in stable iteration order.
var AllEndpointKinds = []EndpointKind{EndpointChat, EndpointClaude, EndpointGemini, EndpointCodex, EndpointImage}

// ProbeStatus is the outcome of a single probe attempt against one
// EndpointKind.
type ProbeStatus string

const (
	ProbeStatusSuccess ProbeStatus = "success"
	ProbeStatusFail    ProbeStatus = "fail"
)

const (
	maxResponseContentBytes = 2048
	maxLogErrorBytes        = 512
)

// Model is one model name exposed by a Channel.
type Model struct {
	ID            int64
	ChannelID     int64
	ChannelKeyID  *int64
	Name          string
	Health        HealthStatus
	LastStatus    TriState
	LastLatencyMS *int64
	LastCheckedAt *time.Time
	CreatedAt     time.Time

	// Endpoints is populated by loaders that join ModelEndpoint rows; it
	// is never a column on this row.
	Endpoints []*ModelEndpoint
}

// ModelEndpoint is the latest persisted outcome for one (Model,
// EndpointKind) pair — upserted in place, never appended to.
type ModelEndpoint struct {
	ModelID         int64
	EndpointKind    EndpointKind
	Status          ProbeStatus
	LatencyMS       int64
	StatusCode      *int
	ErrorMessage    string
	ResponseContent string
	CheckedAt       time.Time
}

// CheckLog is an immutable append-only record of one probe attempt,
// retained for the configured window and then purged.
type CheckLog struct {
	ID              int64
	ModelID         int64
	EndpointKind    EndpointKind
	Status          ProbeStatus
	LatencyMS       int64
	StatusCode      *int
	ErrorMessage    string
	ResponseContent string
	CreatedAt       time.Time
}

// DeriveHealth implements the aggregate health rule from the data model:
// unknown with no recorded endpoints, healthy when every endpoint
// succeeded, unhealthy when every endpoint failed, partial when mixed.
// lastStatus is null only in the UNKNOWN case; PARTIAL maps to true, per
// the derivation table.
func DeriveHealth(endpoints []*ModelEndpoint) (HealthStatus, TriState) {
	if len(endpoints) == 0 {
		return HealthUnknown, TriState{}
	}
	ok, bad := 0, 0
	for _, ep := range endpoints {
		if ep.Status == ProbeStatusSuccess {
			ok++
		} else {
			bad++
		}
	}
	switch {
	case bad == 0:
		return HealthHealthy, TriTrue()
	case ok == 0:
		return HealthUnhealthy, TriFalse()
	default:
		return HealthPartial, TriTrue()
	}
}

// TruncateResponseContent caps a probe's captured response body at the
// size persisted rows are allowed to carry.
func TruncateResponseContent(s string) string {
	return truncateBytes(s, maxResponseContentBytes)
}

// TruncateErrorMessage caps an error string at the size a CheckLog row
// is allowed to carry.
func TruncateErrorMessage(s string) string {
	return truncateBytes(s, maxLogErrorBytes)
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
