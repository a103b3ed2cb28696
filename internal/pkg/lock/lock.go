package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 只有持有者（token 一致）才能释放
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrNotAcquired = errors.New("lock is held by another operation")

type Locker struct {
	client    *redis.Client
	namespace string
	release   *redis.Script
}

func NewLocker(client *redis.Client, namespace string) *Locker {
	return &Locker{
		client:    client,
		namespace: namespace,
		release:   redis.NewScript(releaseScript),
	}
}

func (l *Locker) key(name string) string {
	if l.namespace == "" {
		return name
	}
	return l.namespace + ":" + name
}

// TryLock 尝试加锁，返回释放用的 token；锁被占用时 ok 为 false
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	if name == "" {
		return "", false, errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, name, token string) error {
	if name == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{l.key(name)}, token).Err()
}

// AcquireAll 按给定顺序依次加锁，任一失败则释放已持有的锁。
// 调用方负责排序以避免死锁。返回的函数释放全部锁。
func (l *Locker) AcquireAll(ctx context.Context, names []string, ttl time.Duration) (func(), error) {
	held := make(map[string]string, len(names))
	unlock := func() {
		for name, token := range held {
			_ = l.Release(context.Background(), name, token)
		}
	}
	for _, name := range names {
		if _, dup := held[name]; dup {
			continue
		}
		token, ok, err := l.TryLock(ctx, name, ttl)
		if err != nil {
			unlock()
			return nil, err
		}
		if !ok {
			unlock()
			return nil, ErrNotAcquired
		}
		held[name] = token
	}
	return unlock, nil
}
