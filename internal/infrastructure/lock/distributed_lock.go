package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis 分布式锁
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本先比对 value 再删除，避免删掉别人的锁。
// 锁只用于收敛同一用户的重复提交，资金正确性不依赖它，
// 由数据库的条件更新兜底。

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 持有者标识，释放时验证
	expiration time.Duration // 过期时间，防止持有者崩溃导致死锁
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，value 不匹配时不删除
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewSubmitLock 任务提交锁（按用户维度）
// 不同用户可并发提交，同一用户串行
func NewSubmitLock(client *redis.Client, userID int64) *DistributedLock {
	key := fmt.Sprintf("task:submit:lock:user:%d", userID)
	return NewDistributedLock(client, key, uuid.NewString(), 30*time.Second)
}
