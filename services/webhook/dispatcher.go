package webhook

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// Dispatcher drains webhook_deliveries. Each poll picks the due head per
// (account, subscription) pair, so a pair never has more than one post in
// flight and events leave in enqueue order. Distinct pairs post concurrently
// up to the in-flight ceiling.
type Dispatcher struct {
	deliveries    interfaces.DeliveryRepository
	subscriptions interfaces.SubscriptionRepository
	alerts        interfaces.AlertPublisher
	cfg           *config.WebhookConfig
	httpClient    *http.Client
	log           logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(
	deliveries interfaces.DeliveryRepository,
	subscriptions interfaces.SubscriptionRepository,
	alerts interfaces.AlertPublisher,
	cfg *config.WebhookConfig,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		alerts:        alerts,
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		log:           log,
		stop:          make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.dispatchDue(ctx)
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	span, ctx := tracing.StartTracerSpan(ctx, "Dispatcher.dispatchDue")
	defer span.Finish()
	tracing.TagComponentDispatcher(span)

	due, err := d.deliveries.FindDue(ctx, utils.Now(), d.cfg.MaxInFlight)
	if err != nil {
		tracing.TraceErr(span, err)
		d.log.Errorf("failed to find due deliveries: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	span.LogKV("due", len(due))

	var wg sync.WaitGroup
	for _, delivery := range due {
		// Atomic pending->in_flight swap. Every worker polls the same table,
		// so a head can show up in two FindDue results at once; only the
		// dispatcher whose claim lands posts it.
		claimed, err := d.deliveries.Claim(ctx, delivery.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			continue
		}
		if !claimed {
			continue
		}
		delivery.Status = enum.DeliveryInFlight

		wg.Add(1)
		go func(delivery *models.WebhookDelivery) {
			defer wg.Done()
			d.deliver(ctx, delivery)
		}(delivery)
	}
	wg.Wait()
}

// deliver posts one delivery and applies the outcome policy.
func (d *Dispatcher) deliver(ctx context.Context, delivery *models.WebhookDelivery) {
	span, ctx := tracing.StartTracerSpan(ctx, "Dispatcher.deliver")
	defer span.Finish()
	tracing.TagComponentDispatcher(span)
	tracing.TagAccount(span, delivery.AccountID)
	span.SetTag(tracing.SpanTagDeliveryId, delivery.ID)

	delivery.AttemptCount++

	sub, err := d.subscriptions.GetByID(ctx, delivery.SubscriptionID)
	if err != nil {
		tracing.TraceErr(span, err)
		d.scheduleRetry(ctx, delivery, 0, err.Error())
		return
	}
	if sub == nil || !sub.Enabled {
		d.markTerminal(ctx, delivery, enum.DeliveryPermanentlyFailed, 0, "subscription disabled or deleted")
		return
	}

	statusCode, err := d.post(ctx, sub, delivery)
	switch {
	case err != nil:
		d.scheduleRetry(ctx, delivery, 0, err.Error())
	case statusCode >= 200 && statusCode < 300:
		now := utils.Now()
		delivery.Status = enum.DeliveryDelivered
		delivery.LastHTTPStatus = &statusCode
		delivery.LastError = ""
		delivery.DeliveredAt = &now
		if err := d.deliveries.Save(ctx, delivery); err != nil {
			tracing.TraceErr(span, err)
		}
	case statusCode >= 400 && statusCode < 500 && statusCode != http.StatusRequestTimeout && statusCode != http.StatusTooManyRequests:
		d.markTerminal(ctx, delivery, enum.DeliveryPermanentlyFailed, statusCode, fmt.Sprintf("endpoint rejected delivery with status %d", statusCode))
	default:
		d.scheduleRetry(ctx, delivery, statusCode, fmt.Sprintf("endpoint returned status %d", statusCode))
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *models.WebhookSubscription, delivery *models.WebhookDelivery) (int, error) {
	payload := []byte(delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.SigningSecret, payload))
	req.Header.Set("X-Event-Type", delivery.TriggerKind.String())
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(delivery.AttemptCount))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, delivery *models.WebhookDelivery, statusCode int, reason string) {
	if delivery.AttemptCount >= d.cfg.MaxAttempts {
		d.markTerminal(ctx, delivery, enum.DeliveryExpired, statusCode, reason)
		return
	}

	delivery.Status = enum.DeliveryPending
	delivery.NextAttemptAt = utils.Now().Add(d.backoff(delivery.AttemptCount))
	delivery.LastError = reason
	if statusCode > 0 {
		delivery.LastHTTPStatus = &statusCode
	}
	if err := d.deliveries.Save(ctx, delivery); err != nil {
		d.log.Errorf("failed to reschedule delivery %s: %v", delivery.ID, err)
	}
}

func (d *Dispatcher) markTerminal(ctx context.Context, delivery *models.WebhookDelivery, status enum.DeliveryStatus, statusCode int, reason string) {
	delivery.Status = status
	delivery.LastError = reason
	if statusCode > 0 {
		delivery.LastHTTPStatus = &statusCode
	}
	if err := d.deliveries.Save(ctx, delivery); err != nil {
		d.log.Errorf("failed to finalize delivery %s: %v", delivery.ID, err)
		return
	}

	d.log.Warnf("delivery %s dead-lettered as %s after %d attempts: %s", delivery.ID, status, delivery.AttemptCount, reason)
	if d.alerts != nil {
		if err := d.alerts.PublishDeadLetter(ctx, delivery, reason); err != nil {
			d.log.Errorf("failed to publish dead-letter alert for %s: %v", delivery.ID, err)
		}
	}
}

// backoff grows exponentially from the base, capped, with jitter in the
// upper half of the window to spread synchronized retries.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffMax {
			delay = d.cfg.BackoffMax
			break
		}
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
