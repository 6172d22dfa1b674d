package enum

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	// Claimed by a dispatcher and being posted right now. A row stuck
	// in flight after a crash is reset to pending by the sweep job.
	DeliveryInFlight          DeliveryStatus = "in_flight"
	DeliveryDelivered         DeliveryStatus = "delivered"
	DeliveryExpired           DeliveryStatus = "expired"
	DeliveryPermanentlyFailed DeliveryStatus = "permanently_failed"
)

func (t DeliveryStatus) String() string {
	return string(t)
}

// Terminal reports whether the delivery must never be retried again.
func (t DeliveryStatus) Terminal() bool {
	return t == DeliveryDelivered || t == DeliveryExpired || t == DeliveryPermanentlyFailed
}
