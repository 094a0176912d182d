package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProbeJob is one unit of work: probe one (channel, model, endpointKind)
// triple. The display Id is informational per the job identifier
// format; TraceID is the internal identity broker redelivery and log
// correlation key off of.
type ProbeJob struct {
	ID           string
	TraceID      string
	ChannelID    int64
	ModelID      int64
	ModelName    string
	EndpointKind EndpointKind
	BaseURL      string
	APIKey       string
	ChannelKeyID *int64
	ProxyURL     string
	BatchID      string
	EnqueuedAt   time.Time
	Attempt      int
}

// NewProbeJob builds a ProbeJob with the spec's display id format and a
// fresh internal trace id.
func NewProbeJob(channelID, modelID int64, modelName string, kind EndpointKind, baseURL, apiKey string, channelKeyID *int64, proxyURL string, enqueuedAt time.Time) *ProbeJob {
	return &ProbeJob{
		ID:           fmt.Sprintf("%d-%d-%s-%d", channelID, modelID, kind, enqueuedAt.UnixMilli()),
		TraceID:      uuid.NewString(),
		ChannelID:    channelID,
		ModelID:      modelID,
		ModelName:    modelName,
		EndpointKind: kind,
		BaseURL:      baseURL,
		APIKey:       apiKey,
		ChannelKeyID: channelKeyID,
		ProxyURL:     proxyURL,
		EnqueuedAt:   enqueuedAt,
		Attempt:      1,
	}
}

// ProbeOutcome is the result of executing one ProbeJob. Strategies and
// the executor return this, never an error — failures are encoded as
// Status=fail with ErrorMessage set.
type ProbeOutcome struct {
	EndpointKind    EndpointKind
	Status          ProbeStatus
	LatencyMS       int64
	HTTPStatus      *int
	ErrorMessage    string
	ResponseContent string
}

// ProgressEvent is published once per completed job.
type ProgressEvent struct {
	ChannelID       int64
	ModelID         int64
	ModelName       string
	EndpointKind    EndpointKind
	Status          ProbeStatus
	LatencyMS       int64
	Timestamp       time.Time
	IsModelComplete bool
	SourceID        string
}
