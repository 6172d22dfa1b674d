package repository

import (
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

type Repositories struct {
	AccountRepository      interfaces.AccountRepository
	FolderRepository       interfaces.FolderRepository
	MessageRepository      interfaces.MessageRepository
	SubscriptionRepository interfaces.SubscriptionRepository
	DeliveryRepository     interfaces.DeliveryRepository
	LeaseRepository        interfaces.LeaseRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:      NewAccountRepository(db),
		FolderRepository:       NewFolderRepository(db),
		MessageRepository:      NewMessageRepository(db),
		SubscriptionRepository: NewSubscriptionRepository(db),
		DeliveryRepository:     NewDeliveryRepository(db),
		LeaseRepository:        NewLeaseRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.MessageIndexEntry{},
		&models.WebhookSubscription{},
		&models.WebhookDelivery{},
		&models.WorkerLease{},
		&models.LeaderLease{},
	)
}
