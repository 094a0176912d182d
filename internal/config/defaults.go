package config

import "time"

// 调度器默认值
const (
	// DefaultChannelConcurrency 每渠道默认并发探测数
	DefaultChannelConcurrency = 5

	// DefaultMaxGlobalConcurrency 全局默认并发探测数
	DefaultMaxGlobalConcurrency = 30

	// DefaultMinJitterMS 探测前随机延迟下限
	DefaultMinJitterMS = 3000

	// DefaultMaxJitterMS 探测前随机延迟上限
	DefaultMaxJitterMS = 5000

	// DefaultBrokerWorkerFanout 使用broker队列时的worker协程数
	DefaultBrokerWorkerFanout = 50

	// JitterCancelPollInterval 抖动等待期间检查取消标志的轮询间隔
	JitterCancelPollInterval = 250 * time.Millisecond

	// DefaultCronSchedule 默认探测周期：每6小时一次
	DefaultCronSchedule = "0 */6 * * *"

	// DefaultCleanupSchedule 清理任务默认时间：每天本地时间02:00
	DefaultCleanupSchedule = "0 2 * * *"

	// DefaultLogRetentionDays CheckLog保留天数
	DefaultLogRetentionDays = 7

	// DefaultTimezone 调度器默认时区
	DefaultTimezone = "Local"
)

// 日志配置常量
const (
	// LogMaxMessageLength 单条日志消息的最大长度
	LogMaxMessageLength = 2000
)

// 探测执行器配置常量
const (
	// ProbeDefaultTimeout 单次探测的默认超时
	ProbeDefaultTimeout = 30 * time.Second

	// ProbeMaxResponseBytes 持久化的响应内容截断长度
	ProbeMaxResponseBytes = 2 * 1024

	// ProbeMaxErrorBytes 持久化的错误信息截断长度
	ProbeMaxErrorBytes = 512
)

// 队列配置常量（broker后端）
const (
	// QueueMaxAttempts 单个job最大尝试次数（含首次执行）
	QueueMaxAttempts = 3

	// QueueBackoffInitial 首次重试前的退避时长
	QueueBackoffInitial = 5 * time.Second

	// QueueBackoffMax 退避时长上限
	QueueBackoffMax = 2 * time.Minute

	// QueueCompletedCap 已完成历史的条数上限
	QueueCompletedCap = 1000

	// QueueCompletedTTL 已完成历史的时间上限
	QueueCompletedTTL = 1 * time.Hour

	// QueueFailedCap 失败历史的条数上限
	QueueFailedCap = 500

	// QueueFailedTTL 失败历史的时间上限
	QueueFailedTTL = 24 * time.Hour

	// StoppedFlagTTL 取消标志的存活时长
	StoppedFlagTTL = 5 * time.Minute
)

// 准入控制配置常量（broker后端）
const (
	// AdmissionCounterTTL 准入计数器的存活时长（进程崩溃后自动回收）
	AdmissionCounterTTL = 120 * time.Second

	// AdmissionPollInterval 争用时的轮询间隔
	AdmissionPollInterval = 500 * time.Millisecond
)

// SQLite连接池配置常量
const (
	SQLiteMaxOpenConnsFile = 5
	SQLiteMaxIdleConnsFile = 5
	SQLiteConnMaxLifetime  = 5 * time.Minute
)

// 启动阶段超时配置常量
const (
	// StartupDBPingTimeout 启动时数据库连通性探测超时
	StartupDBPingTimeout = 10 * time.Second

	// StartupMigrationTimeout 启动时建表/迁移超时
	StartupMigrationTimeout = 30 * time.Second
)
