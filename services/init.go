package services

import (
	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/repository"
	"github.com/mailwatchhq/mailwatch/services/coordinator"
	"github.com/mailwatchhq/mailwatch/services/events"
	"github.com/mailwatchhq/mailwatch/services/imap"
	"github.com/mailwatchhq/mailwatch/services/webhook"
	"github.com/mailwatchhq/mailwatch/services/worker"
)

type Services struct {
	AlertPublisher interfaces.AlertPublisher
	EventSink      interfaces.EventSink
	SessionPool    interfaces.SessionPool
	Dispatcher     *webhook.Dispatcher
	Worker         *worker.Worker
	Coordinator    *coordinator.Coordinator
}

// InitServices wires the full service graph. With clustered false the
// coordinator runs solo: no leader election, every account on this worker.
func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, clustered bool) (*Services, error) {
	// alerts go to RabbitMQ when a broker is configured, otherwise to logs
	var alerts interfaces.AlertPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, err
		}
		alerts = publisher
	} else {
		log.Warn("RABBITMQ_URL not set, dead letter alerts will only be logged")
		alerts = events.NewLogAlertPublisher(log)
	}

	sink := webhook.NewEnqueuer(repos.SubscriptionRepository, repos.DeliveryRepository, log)

	limiter := imap.NewHostLimiter(cfg.IMAPConfig.MaxSessionsPerHost, cfg.IMAPConfig.DialsPerHostPerMinute)
	factory := imap.NewSessionFactory(cfg.IMAPConfig, imap.NewEnvCredentialProvider(), limiter, log)
	pool := imap.NewSessionPool(cfg.IMAPConfig, factory, log)

	dispatcher := webhook.NewDispatcher(repos.DeliveryRepository, repos.SubscriptionRepository, alerts, cfg.WebhookConfig, log)

	syncWorker := worker.NewWorker(
		cfg.AppConfig.WorkerID,
		repos.AccountRepository,
		repos.LeaseRepository,
		repos.FolderRepository,
		repos.MessageRepository,
		sink,
		pool,
		cfg.ClusterConfig,
		cfg.SyncConfig,
		cfg.IMAPConfig,
		log,
	)

	newCoordinator := coordinator.NewSoloCoordinator
	if clustered {
		newCoordinator = coordinator.NewCoordinator
	}
	coord := newCoordinator(
		syncWorker.ID,
		repos.AccountRepository,
		repos.LeaseRepository,
		cfg.ClusterConfig,
		log,
	)

	services := Services{
		AlertPublisher: alerts,
		EventSink:      sink,
		SessionPool:    pool,
		Dispatcher:     dispatcher,
		Worker:         syncWorker,
		Coordinator:    coord,
	}

	return &services, nil
}
