package alerting

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus is the lifecycle of a critical-value alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// CriticalAlert maps to the critical_alerts table. One alert exists per
// (order item, classification) pair; re-transmissions never duplicate it.
type CriticalAlert struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	OrderID        uuid.UUID   `db:"order_id" json:"order_id"`
	OrderItemID    uuid.UUID   `db:"order_item_id" json:"order_item_id"`
	PatientID      string      `db:"patient_id" json:"patient_id"`
	TestCode       string      `db:"test_code" json:"test_code"`
	Value          string      `db:"value" json:"value"`
	Classification string      `db:"classification" json:"classification"`
	Status         AlertStatus `db:"status" json:"status"`
	AckBy          *string     `db:"ack_by" json:"ack_by,omitempty"`
	AckAt          *time.Time  `db:"ack_at" json:"ack_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}

// DeltaThreshold maps to the delta_thresholds table: a per-test override of
// the default delta-check percentage.
type DeltaThreshold struct {
	TestCode string  `db:"test_code" json:"test_code"`
	Percent  float64 `db:"percent" json:"percent"`
}
