package limiter_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"creditpay/internal/limiter"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_WithinLimit_Allowed(t *testing.T) {
	// GIVEN: 限制 3次/60s
	// WHEN: 连续请求3次
	// THEN: 全部放行

	l := limiter.NewRateLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire("user_1", 3, 60), "第%d次请求应放行", i+1)
	}
}

func TestRateLimiter_ExceedLimit_Rejected(t *testing.T) {
	// GIVEN: 限制 3次/60s，已放行3次
	// WHEN: 第4次请求
	// THEN: 拒绝

	l := limiter.NewRateLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire("user_1", 3, 60))
	}
	assert.False(t, l.TryAcquire("user_1", 3, 60), "超限请求应被拒绝")
}

func TestRateLimiter_DifferentKeys_Independent(t *testing.T) {
	// 不同 key 的窗口互不影响

	l := limiter.NewRateLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire("user_1", 3, 60))
	}
	assert.False(t, l.TryAcquire("user_1", 3, 60))
	assert.True(t, l.TryAcquire("user_2", 3, 60), "另一个用户不受影响")
}

func TestRateLimiter_WindowSlides_RecoverAfterExpiry(t *testing.T) {
	// GIVEN: 限制 2次/1s，窗口已满
	// WHEN: 等待窗口滑过
	// THEN: 重新放行

	l := limiter.NewRateLimiter()

	assert.True(t, l.TryAcquire("user_1", 2, 1))
	assert.True(t, l.TryAcquire("user_1", 2, 1))
	assert.False(t, l.TryAcquire("user_1", 2, 1))

	time.Sleep(1100 * time.Millisecond)

	assert.True(t, l.TryAcquire("user_1", 2, 1), "窗口滑过后应重新放行")
}

func TestRateLimiter_Concurrent_NeverOverAdmits(t *testing.T) {
	// GIVEN: 限制 10次/60s
	// WHEN: 100个 goroutine 并发抢同一个 key
	// THEN: 恰好放行10个

	l := limiter.NewRateLimiter()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("user_1", 10, 60) {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted, "并发下放行数必须精确等于上限")
}

func TestRateLimiter_ConcurrentDifferentKeys(t *testing.T) {
	// 多 key 并发，每个 key 独立计数

	l := limiter.NewRateLimiter()

	var wg sync.WaitGroup
	results := make([]int64, 10)
	for k := 0; k < 10; k++ {
		key := string(rune('a' + k))
		idx := k
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.TryAcquire(key, 5, 60) {
					atomic.AddInt64(&results[idx], 1)
				}
			}()
		}
	}
	wg.Wait()

	for k, admitted := range results {
		assert.Equal(t, int64(5), admitted, "key %d 放行数应为5", k)
	}
}
