package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// WebhookDelivery is one durable (subscription, event) pair. Rows are
// inserted in the same transaction that commits the index update which
// produced the event, so enqueue is exactly-once.
type WebhookDelivery struct {
	ID string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	// Monotone creation order; drives per-account dispatch ordering
	EventSeq       int64            `gorm:"column:event_seq;autoIncrement;uniqueIndex" json:"eventSeq"`
	SubscriptionID string           `gorm:"column:subscription_id;type:varchar(50);index;not null" json:"subscriptionId"`
	AccountID      string           `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	ApplicationID  string           `gorm:"column:application_id;type:varchar(50);not null" json:"applicationId"`
	TriggerKind    enum.TriggerKind `gorm:"column:trigger_kind;type:varchar(50);not null" json:"triggerKind"`
	// Frozen JSON payload, signed and posted verbatim
	Payload string `gorm:"column:payload;type:jsonb;not null" json:"payload"`

	Status         enum.DeliveryStatus `gorm:"column:status;type:varchar(30);index;not null;default:pending" json:"status"`
	AttemptCount   int                 `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	NextAttemptAt  time.Time           `gorm:"column:next_attempt_at;type:timestamp;index;not null" json:"nextAttemptAt"`
	LastHTTPStatus *int                `gorm:"column:last_http_status" json:"lastHttpStatus"`
	LastError      string              `gorm:"column:last_error;type:text" json:"lastError"`
	DeliveredAt    *time.Time          `gorm:"column:delivered_at;type:timestamp" json:"deliveredAt"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.NewDeliveryID()
	}
	if d.NextAttemptAt.IsZero() {
		d.NextAttemptAt = utils.Now()
	}
	return nil
}
