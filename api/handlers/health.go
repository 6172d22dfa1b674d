package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/services/coordinator"
	"github.com/mailwatchhq/mailwatch/services/worker"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status summarizes this worker's view of the cluster: which accounts it
// supervises, whether it holds the rebalance lease, and the webhook delivery
// backlog.
func Status(w *worker.Worker, coord *coordinator.Coordinator, deliveries interfaces.DeliveryRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts := w.SupervisedAccounts()
		sort.Strings(accounts)

		body := gin.H{
			"workerId":           w.ID,
			"supervisedAccounts": accounts,
		}
		if coord != nil {
			body["leader"] = coord.IsLeader()
		}

		counts, err := deliveries.CountByStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		deliveryCounts := make(map[string]int64, len(counts))
		for status, n := range counts {
			deliveryCounts[status.String()] = n
		}
		body["webhookDeliveries"] = deliveryCounts

		c.JSON(http.StatusOK, body)
	}
}
