// Package utils 提供雪花 ID 与订单号生成等通用工具
package utils

import (
	"fmt"
	"sync"
	"time"
)

// SnowflakeID 雪花算法 ID 生成器
type SnowflakeID struct {
	mu        sync.Mutex
	timestamp int64
	sequence  int64
	nodeID    int64
}

// NewSnowflakeID 创建雪花 ID 生成器
func NewSnowflakeID(nodeID int64) *SnowflakeID {
	return &SnowflakeID{
		nodeID: nodeID & 0x3FF, // 10 bits
	}
}

// Generate 生成雪花 ID
func (s *SnowflakeID) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & 0xFFF // 12 bits
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	// timestamp(41 bits) + nodeID(10 bits) + sequence(12 bits)
	return (now << 22) | (s.nodeID << 12) | s.sequence
}

// OrderIDGenerator 生成形如 ORD-<year>-<suffix> 的订单号，
// 后缀为雪花 ID，保证并发生成不重复
type OrderIDGenerator struct {
	snowflake *SnowflakeID
}

// NewOrderIDGenerator 创建订单号生成器
func NewOrderIDGenerator(nodeID int64) *OrderIDGenerator {
	return &OrderIDGenerator{snowflake: NewSnowflakeID(nodeID)}
}

// Next 生成下一个订单号
func (g *OrderIDGenerator) Next() string {
	return fmt.Sprintf("ORD-%d-%d", time.Now().Year(), g.snowflake.Generate())
}

// Retry 重试函数
func Retry(maxAttempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < maxAttempts-1 {
			time.Sleep(delay)
		}
	}
	return lastErr
}
