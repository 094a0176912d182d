package model

import "time"

// SchedulerConfig is the single tunable row (id="default") that governs
// cron timing, concurrency bounds, and jitter for the whole engine. It
// is cached in memory by the worker pool with a short TTL, and
// hot-reloadable without a process restart.
type SchedulerConfig struct {
	ID                  string
	Enabled             bool
	CronExpression      string
	Timezone            string
	ChannelConcurrency  int
	MaxGlobalConcurrency int
	MinJitterMS         int
	MaxJitterMS         int
	DetectAllChannels  bool
	SelectedChannelIDs []int64
	SelectedModelIDs   map[int64][]int64 // channelID -> modelIDs
	LogRetentionDays   int
	UpdatedAt          time.Time
}

// DefaultSchedulerConfigID is the singleton row id every store
// implementation reads and writes.
const DefaultSchedulerConfigID = "default"
