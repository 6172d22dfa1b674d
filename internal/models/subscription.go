package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// WebhookSubscription is one tenant-registered webhook endpoint.
type WebhookSubscription struct {
	ID            string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	ApplicationID string         `gorm:"column:application_id;type:varchar(50);index;not null" json:"applicationId"`
	TargetURL     string         `gorm:"column:target_url;type:text;not null" json:"targetUrl"`
	SigningSecret string         `gorm:"column:signing_secret;type:varchar(255);not null" json:"-"`
	Triggers      pq.StringArray `gorm:"column:triggers;type:text[];not null" json:"triggers"`
	Enabled       bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

func (s *WebhookSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = utils.NewSubscriptionID()
	}
	return nil
}

// Subscribed reports whether the subscription carries the trigger kind.
func (s *WebhookSubscription) Subscribed(kind enum.TriggerKind) bool {
	for _, t := range s.Triggers {
		if t == kind.String() {
			return true
		}
	}
	return false
}
