package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"probewatch/internal/apperr"
	"probewatch/internal/config"
	"probewatch/internal/model"
	"probewatch/internal/util"
)

const (
	keyWaiting   = "probewatch:queue:waiting"
	keyActive    = "probewatch:queue:active"
	keyDelayed   = "probewatch:queue:delayed"
	keyCompleted = "probewatch:queue:completed"
	keyFailed    = "probewatch:queue:failed"
	keyFailedMsg = "probewatch:queue:failed:msg"
	keyStopped   = "probewatch:queue:stopped"
	admissionKeyPattern = "probewatch:admission:*"

	maxAttempts = 3
)

// brokerRecord is the JSON envelope stored in Redis for a job sitting
// in the waiting list, the active hash, or the delayed sorted set.
type brokerRecord struct {
	Job     *model.ProbeJob `json:"job"`
	Attempt int              `json:"attempt"`
}

// BrokerQueue is the multi-process backend: a Redis list for waiting
// jobs, a hash for active jobs, and sorted sets for delayed retries and
// bounded completion/failure history.
type BrokerQueue struct {
	client *redis.Client

	mu      sync.Mutex
	cancels []context.CancelFunc
}

func NewBrokerQueue(brokerURL string) (*BrokerQueue, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	opts.PoolSize = 20
	opts.MinIdleConns = 2
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker ping failed: %w", err)
	}

	return &BrokerQueue{client: client}, nil
}

func (q *BrokerQueue) Enqueue(ctx context.Context, job *model.ProbeJob) error {
	data, err := sonic.Marshal(brokerRecord{Job: job, Attempt: 1})
	if err != nil {
		return apperr.AdmissionBrokerError("enqueue-marshal", err)
	}
	if err := q.client.RPush(ctx, keyWaiting, data).Err(); err != nil {
		return apperr.AdmissionBrokerError("enqueue", err)
	}
	return nil
}

func (q *BrokerQueue) EnqueueBulk(ctx context.Context, jobs []*model.ProbeJob) error {
	if len(jobs) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for _, job := range jobs {
		data, err := sonic.Marshal(brokerRecord{Job: job, Attempt: 1})
		if err != nil {
			return apperr.AdmissionBrokerError("enqueue-bulk-marshal", err)
		}
		pipe.RPush(ctx, keyWaiting, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.AdmissionBrokerError("enqueue-bulk", err)
	}
	return nil
}

func (q *BrokerQueue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.client.LLen(ctx, keyWaiting).Result()
	if err != nil {
		return Stats{}, apperr.AdmissionBrokerError("stats-waiting", err)
	}
	active, err := q.client.HLen(ctx, keyActive).Result()
	if err != nil {
		return Stats{}, apperr.AdmissionBrokerError("stats-active", err)
	}
	delayed, err := q.client.ZCard(ctx, keyDelayed).Result()
	if err != nil {
		return Stats{}, apperr.AdmissionBrokerError("stats-delayed", err)
	}
	completed, err := q.client.ZCard(ctx, keyCompleted).Result()
	if err != nil {
		return Stats{}, apperr.AdmissionBrokerError("stats-completed", err)
	}
	failed, err := q.client.ZCard(ctx, keyFailed).Result()
	if err != nil {
		return Stats{}, apperr.AdmissionBrokerError("stats-failed", err)
	}

	s := Stats{
		Waiting:   int(waiting),
		Active:    int(active),
		Delayed:   int(delayed),
		Completed: int(completed),
		Failed:    int(failed),
	}
	s.Total = s.Waiting + s.Active + s.Delayed + s.Completed + s.Failed
	return s, nil
}

func (q *BrokerQueue) TestingModelIDs(ctx context.Context) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	if err := q.collectIDs(ctx, func(j *model.ProbeJob) { ids[j.ModelID] = true }); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *BrokerQueue) TestingChannelIDs(ctx context.Context) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	if err := q.collectIDs(ctx, func(j *model.ProbeJob) { ids[j.ChannelID] = true }); err != nil {
		return nil, err
	}
	return ids, nil
}

// collectIDs walks waiting, delayed, and active records and invokes fn
// on every job it finds.
func (q *BrokerQueue) collectIDs(ctx context.Context, fn func(*model.ProbeJob)) error {
	waiting, err := q.client.LRange(ctx, keyWaiting, 0, -1).Result()
	if err != nil {
		return apperr.AdmissionBrokerError("scan-waiting", err)
	}
	for _, raw := range waiting {
		if rec, ok := decodeRecord(raw); ok {
			fn(rec.Job)
		}
	}

	delayed, err := q.client.ZRange(ctx, keyDelayed, 0, -1).Result()
	if err != nil {
		return apperr.AdmissionBrokerError("scan-delayed", err)
	}
	for _, raw := range delayed {
		if rec, ok := decodeRecord(raw); ok {
			fn(rec.Job)
		}
	}

	active, err := q.client.HGetAll(ctx, keyActive).Result()
	if err != nil {
		return apperr.AdmissionBrokerError("scan-active", err)
	}
	for _, raw := range active {
		if rec, ok := decodeRecord(raw); ok {
			fn(rec.Job)
		}
	}
	return nil
}

func decodeRecord(raw string) (brokerRecord, bool) {
	var rec brokerRecord
	if err := sonic.Unmarshal([]byte(raw), &rec); err != nil || rec.Job == nil {
		return brokerRecord{}, false
	}
	return rec, true
}

// StopAndDrain pauses the queue, fails every active job with a fixed
// message, empties the waiting list, and deletes every admission
// counter key so a subsequent resume starts from a clean slate.
func (q *BrokerQueue) StopAndDrain(ctx context.Context) (DrainResult, error) {
	if err := q.client.Set(ctx, keyStopped, "1", config.StoppedFlagTTL).Err(); err != nil {
		return DrainResult{}, apperr.AdmissionBrokerError("stop-set-flag", err)
	}

	active, err := q.client.HGetAll(ctx, keyActive).Result()
	if err != nil {
		return DrainResult{}, apperr.AdmissionBrokerError("stop-scan-active", err)
	}
	for jobID, raw := range active {
		if rec, ok := decodeRecord(raw); ok {
			q.moveToFailed(ctx, jobID, rec, "Detection stopped by user")
		}
	}
	if len(active) > 0 {
		q.client.Del(ctx, keyActive)
	}

	cleared, err := q.client.LLen(ctx, keyWaiting).Result()
	if err != nil {
		return DrainResult{}, apperr.AdmissionBrokerError("stop-llen-waiting", err)
	}
	if cleared > 0 {
		if err := q.client.Del(ctx, keyWaiting).Err(); err != nil {
			return DrainResult{}, apperr.AdmissionBrokerError("stop-del-waiting", err)
		}
	}

	if err := q.deleteAdmissionKeys(ctx); err != nil {
		return DrainResult{}, err
	}

	return DrainResult{Cleared: int(cleared)}, nil
}

func (q *BrokerQueue) deleteAdmissionKeys(ctx context.Context) error {
	iter := q.client.Scan(ctx, 0, admissionKeyPattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperr.AdmissionBrokerError("stop-scan-admission", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.AdmissionBrokerError("stop-del-admission", err)
	}
	return nil
}

func (q *BrokerQueue) StoppedFlag(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, keyStopped).Result()
	if err != nil {
		return false, apperr.AdmissionBrokerError("stopped-flag", err)
	}
	return n > 0, nil
}

func (q *BrokerQueue) ClearStoppedFlag(ctx context.Context) error {
	if err := q.client.Del(ctx, keyStopped).Err(); err != nil {
		return apperr.AdmissionBrokerError("clear-stopped-flag", err)
	}
	return nil
}

func (q *BrokerQueue) HasPendingForModel(ctx context.Context, modelID int64, excludeJobID string) (bool, error) {
	found := false
	err := q.collectIDs(ctx, func(j *model.ProbeJob) {
		if j.ModelID == modelID && j.ID != excludeJobID {
			found = true
		}
	})
	return found, err
}

// PullNext/MarkDone are unsupported: the broker drives its own
// consumer loop via Subscribe.
func (q *BrokerQueue) PullNext(ctx context.Context, canTake func(*model.ProbeJob) bool) (*model.ProbeJob, error) {
	return nil, ErrBrokerBackendUnsupported
}

func (q *BrokerQueue) MarkDone(ctx context.Context, jobID string, success bool) error {
	return ErrBrokerBackendUnsupported
}

// Subscribe starts config.DefaultBrokerWorkerFanout consumer goroutines
// that BLPOP off the waiting list, plus one goroutine that promotes due
// delayed retries back onto the waiting list. It returns once the
// consumers are launched; they keep running until ctx is cancelled or
// Close is called.
func (q *BrokerQueue) Subscribe(ctx context.Context, handler func(context.Context, *model.ProbeJob) error) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancels = append(q.cancels, cancel)
	q.mu.Unlock()

	go q.promoteDelayedLoop(consumerCtx)

	for i := 0; i < config.DefaultBrokerWorkerFanout; i++ {
		go q.consumeLoop(consumerCtx, handler)
	}
	return nil
}

func (q *BrokerQueue) consumeLoop(ctx context.Context, handler func(context.Context, *model.ProbeJob) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stopped, err := q.StoppedFlag(ctx)
		if err == nil && stopped {
			time.Sleep(config.AdmissionPollInterval)
			continue
		}

		result, err := q.client.BLPop(ctx, 5*time.Second, keyWaiting).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				time.Sleep(time.Second)
			}
			continue
		}
		// result[0] is the key name, result[1] the payload.
		rec, ok := decodeRecord(result[1])
		if !ok {
			continue
		}

		data, _ := sonic.Marshal(rec)
		q.client.HSet(ctx, keyActive, rec.Job.ID, data)

		err = handler(ctx, rec.Job)
		if err == nil {
			q.moveToCompleted(ctx, rec.Job.ID)
			continue
		}

		if rec.Attempt >= maxAttempts {
			q.moveToFailed(ctx, rec.Job.ID, rec, err.Error())
			continue
		}
		q.scheduleRetry(ctx, rec)
	}
}

func (q *BrokerQueue) scheduleRetry(ctx context.Context, rec brokerRecord) {
	retryAt := time.Now().Add(jobBackoff(rec.Attempt))
	rec.Attempt++
	data, _ := sonic.Marshal(rec)
	q.client.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(retryAt.UnixMilli()), Member: data}).Result()
	q.client.HDel(ctx, keyActive, rec.Job.ID)
}

func (q *BrokerQueue) promoteDelayedLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDueDelayed(ctx)
		}
	}
}

func (q *BrokerQueue) promoteDueDelayed(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, raw := range due {
		q.client.RPush(ctx, keyWaiting, raw)
		q.client.ZRem(ctx, keyDelayed, raw)
	}
}

func (q *BrokerQueue) moveToCompleted(ctx context.Context, jobID string) {
	q.client.HDel(ctx, keyActive, jobID)
	now := time.Now()
	q.client.ZAdd(ctx, keyCompleted, redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	q.trimHistory(ctx, keyCompleted, config.QueueCompletedCap, config.QueueCompletedTTL)
}

func (q *BrokerQueue) moveToFailed(ctx context.Context, jobID string, rec brokerRecord, errMsg string) {
	q.client.HDel(ctx, keyActive, jobID)
	now := time.Now()
	q.client.ZAdd(ctx, keyFailed, redis.Z{Score: float64(now.UnixMilli()), Member: jobID})
	q.client.HSet(ctx, keyFailedMsg, jobID, errMsg)
	q.trimHistory(ctx, keyFailed, config.QueueFailedCap, config.QueueFailedTTL)
}

func (q *BrokerQueue) trimHistory(ctx context.Context, key string, maxEntries int, ttl time.Duration) {
	cutoff := float64(time.Now().Add(-ttl).UnixMilli())
	q.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))

	n, err := q.client.ZCard(ctx, key).Result()
	if err != nil || n <= int64(maxEntries) {
		return
	}
	q.client.ZRemRangeByRank(ctx, key, 0, n-int64(maxEntries)-1)
}

func jobBackoff(attempt int) time.Duration {
	return util.CalculateJobBackoff(attempt)
}

func (q *BrokerQueue) Close() error {
	q.mu.Lock()
	for _, cancel := range q.cancels {
		cancel()
	}
	q.cancels = nil
	q.mu.Unlock()
	return q.client.Close()
}
