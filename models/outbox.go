package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for DispatchEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// DispatchEventRecord is the transactional outbox row for dispatch status
// events. It is written inside the transition's DB transaction and published
// to Pub/Sub after commit by the outbox dispatcher.
type DispatchEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId       string     `gorm:"size:64;not null;index" json:"business_id"`
	ChallanId        int        `gorm:"index;not null" json:"challan_id"`
	ChallanNumber    string     `gorm:"size:255" json:"challan_number"`
	Event            string     `gorm:"size:50;not null" json:"event"`
	OccurredAt       time.Time  `gorm:"index;not null" json:"occurred_at"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishDispatchEvent writes the event record inside the caller's DB
// transaction but does NOT publish to Pub/Sub. Publishing happens
// asynchronously after commit.
func PublishDispatchEvent(ctx context.Context, tx *gorm.DB, businessId string, challanId int, challanNumber string, event string, payload interface{}) error {
	var payloadInByte []byte
	var err error
	if payload != nil {
		payloadInByte, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	record := DispatchEventRecord{
		BusinessId:    businessId,
		ChallanId:     challanId,
		ChallanNumber: challanNumber,
		Event:         event,
		OccurredAt:    time.Now().UTC(),
		Payload:       payloadInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToDispatchEventMessage(record DispatchEventRecord) config.DispatchEventMessage {
	return config.DispatchEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		ChallanId:     record.ChallanId,
		ChallanNumber: record.ChallanNumber,
		Event:         record.Event,
		OccurredAt:    record.OccurredAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
