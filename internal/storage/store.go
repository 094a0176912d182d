package storage

import (
	"context"
	"time"

	"probewatch/internal/model"
)

// ChannelStore 渠道及其模型的只读加载接口
type ChannelStore interface {
	// LoadEnabledChannels 按sortOrder升序(createdAt desc打破平局)加载所有
	// enabled渠道；withModels=true时一并加载每个渠道的Models(及其Endpoints)。
	LoadEnabledChannels(ctx context.Context, withModels bool) ([]*model.Channel, error)
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
}

// ModelStore 模型探测状态管理接口，是持久化层的原子性边界：
// PersistProbeOutcome是并发写同一模型时唯一的串行化点。
type ModelStore interface {
	// ResetModelsProbeState 在一个事务内删除指定模型的全部ModelEndpoint行，
	// 并将这些Model置为{healthStatus=UNKNOWN, lastStatus=null, ...}。
	ResetModelsProbeState(ctx context.Context, modelIDs []int64) error

	// PersistProbeOutcome 在一个事务内upsert ModelEndpoint，追加CheckLog，
	// 重新派生Model的健康状态，并更新Model行。
	PersistProbeOutcome(ctx context.Context, job *model.ProbeJob, outcome *model.ProbeOutcome) error

	ListModelsForSync(ctx context.Context, channelID int64) ([]*model.Model, error)

	// ReplaceOrAddModels 插入缺失的(channelId, modelName)，跳过已存在的，
	// 从不删除旧名字（保留历史）。返回新增数量。
	ReplaceOrAddModels(ctx context.Context, channelID int64, names []string) (added int, err error)

	GetModel(ctx context.Context, id int64) (*model.Model, error)
	ListModelsByChannel(ctx context.Context, channelID int64) ([]*model.Model, error)
}

// CheckLogStore append-only探测历史管理接口
type CheckLogStore interface {
	PurgeCheckLogsOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error)
	ListCheckLogs(ctx context.Context, modelID int64, limit int) ([]*model.CheckLog, error)
}

// SchedulerConfigStore 调度器单行配置管理接口
type SchedulerConfigStore interface {
	LoadSchedulerConfig(ctx context.Context) (*model.SchedulerConfig, error)
	UpsertSchedulerConfig(ctx context.Context, cfg *model.SchedulerConfig) error
}

// Store 数据持久化接口（组合所有子接口）
type Store interface {
	ChannelStore
	ModelStore
	CheckLogStore
	SchedulerConfigStore

	Close() error
}
