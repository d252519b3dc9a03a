package idgen

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 雪花 ID：1 位符号 | 41 位毫秒时间戳 | 10 位 workerID | 12 位序列号。
// 多实例部署时每个实例必须配置不同的 server.worker_id。

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
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

// Init 初始化默认生成器，只有第一次调用生效
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

// NextID 生成下一个ID，未初始化时使用 workerID = 1
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨，沿用上次的时间戳继续递增序列号
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

func generate(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("060102"), id)
}

// GenerateOrderNo 生成对外展示的订单号
// 格式：ORD + 年月日 + 雪花ID
func GenerateOrderNo() string {
	return generate("ORD")
}

// GenerateTransactionNo 生成账户流水号
func GenerateTransactionNo() string {
	return generate("TXN")
}

// GenerateTransferNo 生成转账单号
func GenerateTransferNo() string {
	return generate("TRF")
}

// GeneratePaymentReference 生成支付网关 reference
// 网关要求全局唯一，雪花ID 之外再拼 uuid 的前 8 位，避免多实例 workerID 配置重复时撞号
func GeneratePaymentReference() string {
	return fmt.Sprintf("CW%d%s", NextID(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
