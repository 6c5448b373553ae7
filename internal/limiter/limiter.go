package limiter

import (
	"context"
	"log"
	"sync"
	"time"
)

// 基于内存的滑动窗口限流器
// 用于防止用户恶意刷单（如同一用户1分钟内最多创建3个充值订单）

type entry struct {
	mu          sync.Mutex
	accessTimes []time.Time
}

// RateLimiter 滑动窗口限流器
// 每个 key 独立一把锁，不同 key 互不阻塞
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	// key 多久没有窗口内记录后允许被清理
	idleRetention time.Duration
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries:       make(map[string]*entry),
		idleRetention: 5 * time.Minute,
	}
}

// TryAcquire 检查并记录一次访问
// 每次检查先剔除窗口外的记录，剔除后次数达到上限则拒绝；
// 检查和记录在 entry 锁内完成，并发调用不会超限放行
func (l *RateLimiter) TryAcquire(key string, maxAttempts int, windowSeconds int) bool {
	e := l.lockEntry(key)
	defer e.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Duration(windowSeconds) * time.Second)

	e.accessTimes = prune(e.accessTimes, windowStart)

	if len(e.accessTimes) >= maxAttempts {
		log.Printf("[RateLimiter] 频率限制触发: key=%s, 当前次数=%d, 限制=%d/%ds",
			key, len(e.accessTimes), maxAttempts, windowSeconds)
		return false
	}

	e.accessTimes = append(e.accessTimes, now)
	return true
}

// lockEntry 返回 key 对应的 entry，返回时已持有 entry 锁。
// entry 锁必须在 map 锁内取得：否则两把锁之间 evict 可能把该 key
// 从 map 删除，本次访问会记进一个孤儿 entry 而丢失
func (l *RateLimiter) lockEntry(key string) *entry {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.mu.Lock()
	l.mu.Unlock()
	return e
}

// prune 原地剔除 windowStart 之前的记录
func prune(times []time.Time, windowStart time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(windowStart) {
			kept = append(kept, t)
		}
	}
	return kept
}

// StartEviction 启动后台清理，定期淘汰长时间无访问的 key，防止内存无限增长
// 仍有保留期内记录的 key 不会被淘汰
func (l *RateLimiter) StartEviction(ctx context.Context, interval time.Duration) {
	log.Println("[RateLimiter] 过期key清理任务启动")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RateLimiter] 收到停止信号，清理任务退出")
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *RateLimiter) evict() {
	threshold := time.Now().Add(-l.idleRetention)

	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.entries)
	for key, e := range l.entries {
		e.mu.Lock()
		e.accessTimes = prune(e.accessTimes, threshold)
		empty := len(e.accessTimes) == 0
		e.mu.Unlock()
		if empty {
			delete(l.entries, key)
		}
	}

	if after := len(l.entries); after != before {
		log.Printf("[RateLimiter] 清理完成: 清理前=%d, 清理后=%d", before, after)
	}
}
