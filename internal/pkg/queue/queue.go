package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DelayQueue 基于 Redis 有序集合的延时队列。
// score 为触发时间（毫秒），member 为 "kind:subjectID:expireAtMs"。
// 每个主体在 <name>:handles 中记录当前句柄，重新调度会替换旧任务。
type DelayQueue struct {
	client    *redis.Client
	queueName string
	handleKey string

	schedule *redis.Script
	cancel   *redis.Script
	pop      *redis.Script
	requeue  *redis.Script
}

// Task 到期后需要执行的延时动作
type Task struct {
	Kind      string
	SubjectID int64
	ExpireAt  time.Time
}

var ErrMalformedTask = errors.New("malformed delay queue member")

const scheduleScript = `
local old = redis.call("HGET", KEYS[2], ARGV[1])
if old and old ~= ARGV[3] then
  redis.call("ZREM", KEYS[1], old)
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
return 1
`

const cancelScript = `
local old = redis.call("HGET", KEYS[2], ARGV[1])
if old then
  redis.call("ZREM", KEYS[1], old)
  redis.call("HDEL", KEYS[2], ARGV[1])
  return 1
end
return 0
`

const popScript = `
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, m in ipairs(items) do
  redis.call("ZREM", KEYS[1], m)
  local f = string.match(m, "^(.+):[^:]+$")
  if f and redis.call("HGET", KEYS[2], f) == m then
    redis.call("HDEL", KEYS[2], f)
  end
end
return items
`

// 重新入队不覆盖更新的句柄
const requeueScript = `
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
redis.call("HSETNX", KEYS[2], ARGV[1], ARGV[3])
return 1
`

func NewDelayQueue(client *redis.Client, queueName string) *DelayQueue {
	return &DelayQueue{
		client:    client,
		queueName: queueName,
		handleKey: queueName + ":handles",
		schedule:  redis.NewScript(scheduleScript),
		cancel:    redis.NewScript(cancelScript),
		pop:       redis.NewScript(popScript),
		requeue:   redis.NewScript(requeueScript),
	}
}

func handle(kind string, subjectID int64) string {
	return kind + ":" + strconv.FormatInt(subjectID, 10)
}

func (t Task) member() string {
	return handle(t.Kind, t.SubjectID) + ":" + strconv.FormatInt(t.ExpireAt.UnixMilli(), 10)
}

func parseMember(m string) (Task, error) {
	parts := strings.Split(m, ":")
	if len(parts) != 3 || parts[0] == "" {
		return Task{}, fmt.Errorf("%w: %q", ErrMalformedTask, m)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("%w: %q", ErrMalformedTask, m)
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("%w: %q", ErrMalformedTask, m)
	}
	return Task{Kind: parts[0], SubjectID: id, ExpireAt: time.UnixMilli(ms).UTC()}, nil
}

// Schedule 在 ExpireAt 时刻触发任务，替换该主体之前的任务
func (q *DelayQueue) Schedule(ctx context.Context, t Task) error {
	err := q.schedule.Run(ctx, q.client, []string{q.queueName, q.handleKey},
		handle(t.Kind, t.SubjectID), t.ExpireAt.UnixMilli(), t.member()).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// Cancel 取消主体当前的任务，返回是否存在
func (q *DelayQueue) Cancel(ctx context.Context, kind string, subjectID int64) (bool, error) {
	n, err := q.cancel.Run(ctx, q.client, []string{q.queueName, q.handleKey}, handle(kind, subjectID)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return n == 1, nil
}

// PopDue 原子地取出至多 limit 个已到期的任务。
// 取出即从队列移除，处理失败时调用方需 Requeue。
func (q *DelayQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	members, err := q.pop.Run(ctx, q.client, []string{q.queueName, q.handleKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop due tasks: %w", err)
	}

	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		t, err := parseMember(m)
		if err != nil {
			// 无法解析的成员直接丢弃，周期扫描会兜底
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Requeue 在 at 时刻重新投递任务
func (q *DelayQueue) Requeue(ctx context.Context, t Task, at time.Time) error {
	err := q.requeue.Run(ctx, q.client, []string{q.queueName, q.handleKey},
		handle(t.Kind, t.SubjectID), at.UnixMilli(), t.member()).Err()
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	return nil
}

// Scheduled 查询主体当前的任务
func (q *DelayQueue) Scheduled(ctx context.Context, kind string, subjectID int64) (*Task, error) {
	m, err := q.client.HGet(ctx, q.handleKey, handle(kind, subjectID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	t, err := parseMember(m)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Length 获取队列中的任务数
func (q *DelayQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
