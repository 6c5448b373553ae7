package idgen

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 订单号/流水号要求：
//   1. 全局唯一 - 不能重复
//   2. 趋势递增 - 便于数据库索引
//   3. 高性能 - 支持高并发生成
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认生成器，workerID 取值范围 [0, 1023]
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 超出范围: %d", workerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

// NextID 生成下一个ID
func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < s.timestamp {
		// 时钟回拨，等待追上
		time.Sleep(time.Duration(s.timestamp-now) * time.Millisecond)
		now = time.Now().UnixMilli()
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 当前毫秒序列号用尽，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return (now-epoch)<<timestampShift | s.workerID<<workerIDShift | s.sequence
}

func mustGenerator() *Snowflake {
	if defaultGenerator == nil {
		Init(0)
	}
	return defaultGenerator
}

// GenerateOrderNo 生成充值订单号
// 格式：R{雪花ID}{随机8位}{用户ID后4位}，R 前缀便于对账时区分业务
func GenerateOrderNo(userID int64) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("R%d%s%04d", mustGenerator().NextID(), random, userID%10000)
}

// GenerateTransactionNo 生成账户流水号
func GenerateTransactionNo() string {
	return fmt.Sprintf("T%d", mustGenerator().NextID())
}
