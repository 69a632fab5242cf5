// Package messaging 领域事件的事务性 Outbox 实现。
// 事件与业务数据在同一事务内落库，由独立的 Relay 投递到 Kafka，
// 保证业务回滚时事件一并消失。订单确认与商品目录的事件共用一张表。
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	"github.com/shopkit/promoquoter/internal/order/domain"
	"github.com/shopkit/promoquoter/pkg/logger"
	"github.com/shopkit/promoquoter/pkg/utils"
)

// Outbox 消息状态
const (
	statusPending   = "pending"
	statusPublished = "published"
)

// Kafka 投递的重试参数
const (
	relaySendAttempts = 3
	relaySendBackoff  = 100 * time.Millisecond
)

// OutboxMessage 待投递消息
type OutboxMessage struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	EventType string    `gorm:"type:varchar(100);index"`
	EventKey  string    `gorm:"type:varchar(64);index"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string { return "outbox_messages" }

// Outbox 领域事件发布器
type Outbox struct {
	db *gorm.DB
}

// NewOutbox 创建 Outbox 实例
func NewOutbox(db *gorm.DB) *Outbox {
	return &Outbox{db: db}
}

// EnqueueOrderConfirmed 在给定事务内写入订单确认事件
func (o *Outbox) EnqueueOrderConfirmed(tx *gorm.DB, event domain.OrderConfirmedEvent) error {
	return o.enqueue(tx, "OrderConfirmedEvent", event.OrderID, event)
}

// EnqueueStockChanged 在给定事务内写入库存变更事件
func (o *Outbox) EnqueueStockChanged(tx *gorm.DB, event catalogdomain.ProductStockChangedEvent) error {
	return o.enqueue(tx, "ProductStockChangedEvent", event.ProductID, event)
}

// EnqueueProductCreated 写入商品创建事件，tx 为 nil 时直接走默认连接
func (o *Outbox) EnqueueProductCreated(tx *gorm.DB, event catalogdomain.ProductCreatedEvent) error {
	return o.enqueue(tx, "ProductCreatedEvent", event.ProductID, event)
}

func (o *Outbox) enqueue(tx *gorm.DB, eventType, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &OutboxMessage{
		ID:        uuid.New().String(),
		EventType: eventType,
		EventKey:  key,
		Payload:   string(payload),
		Status:    statusPending,
	}
	db := tx
	if db == nil {
		db = o.db
	}
	return db.Create(msg).Error
}

// EventSender 消息投递抽象，生产实现为 mq.KafkaProducer
type EventSender interface {
	SendRaw(ctx context.Context, topic string, key string, payload []byte) error
}

// Relay 将 pending 消息投递到 Kafka
type Relay struct {
	db       *gorm.DB
	sender   EventSender
	topic    string
	interval time.Duration
}

// NewRelay 创建投递器
func NewRelay(db *gorm.DB, sender EventSender, topic string, interval time.Duration) *Relay {
	return &Relay{db: db, sender: sender, topic: topic, interval: interval}
}

// Run 轮询 outbox 并投递，ctx 取消后返回
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				logger.Warn(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	var messages []OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", statusPending).
		Order("created_at ASC").
		Limit(100).
		Find(&messages).Error
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := r.publish(ctx, &msg); err != nil {
			// 投递失败保持 pending，下一轮重试
			return err
		}
		err := r.db.WithContext(ctx).Model(&OutboxMessage{}).
			Where("id = ?", msg.ID).
			Update("status", statusPublished).Error
		if err != nil {
			return err
		}
		logger.Debug(ctx, "outbox message published", "event_type", msg.EventType, "key", msg.EventKey)
	}
	return nil
}

// publish 短暂退避重试后仍失败才交回 drain，避免瞬时抖动打断整批投递
func (r *Relay) publish(ctx context.Context, msg *OutboxMessage) error {
	return utils.Retry(relaySendAttempts, relaySendBackoff, func() error {
		return r.sender.SendRaw(ctx, r.topic, msg.EventKey, []byte(msg.Payload))
	})
}
