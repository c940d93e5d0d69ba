package laborder

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of a lab order.
type OrderStatus string

const (
	OrderPending             OrderStatus = "pending"
	OrderCollected           OrderStatus = "collected"
	OrderProcessing          OrderStatus = "processing"
	OrderPendingApproval     OrderStatus = "pending-approval"
	OrderPreliminaryApproved OrderStatus = "preliminary-approved"
	OrderApproved            OrderStatus = "approved"
	OrderCancelled           OrderStatus = "cancelled"
)

// ItemStatus is the lifecycle state of a single ordered test.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemResulted ItemStatus = "resulted"
	ItemApproved ItemStatus = "approved"
	ItemRerun    ItemStatus = "rerun"
)

// Classification buckets a numeric result against its reference range.
type Classification string

const (
	ClassNone         Classification = ""
	ClassNormal       Classification = "normal"
	ClassLow          Classification = "low"
	ClassHigh         Classification = "high"
	ClassCriticalLow  Classification = "critical-low"
	ClassCriticalHigh Classification = "critical-high"
)

// IsCritical reports whether the classification requires a critical alert.
func (c Classification) IsCritical() bool {
	return c == ClassCriticalLow || c == ClassCriticalHigh
}

// RawResultStatus tracks the disposition of an unmatched analyzer result.
type RawResultStatus string

const (
	RawPending      RawResultStatus = "pending"
	RawMatched      RawResultStatus = "matched"
	RawManualMapped RawResultStatus = "manual-mapped"
	RawIgnored      RawResultStatus = "ignored"
)

// LabOrder maps to the lab_orders table.
type LabOrder struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	OrderNo         string      `db:"order_no" json:"order_no"`
	PatientID       string      `db:"patient_id" json:"patient_id"`
	SampleBarcode   *string     `db:"sample_barcode" json:"sample_barcode,omitempty"`
	Status          OrderStatus `db:"status" json:"status"`
	ProcessingStart *time.Time  `db:"processing_start" json:"processing_start,omitempty"`
	ProcessingEnd   *time.Time  `db:"processing_end" json:"processing_end,omitempty"`
	ApprovedBy      *string     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time  `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`

	Items []*LabOrderItem `db:"-" json:"items,omitempty"`
}

// LabOrderItem maps to the lab_order_items table. Reference bounds are
// optional; a missing bound simply never triggers its classification.
type LabOrderItem struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	OrderID        uuid.UUID      `db:"order_id" json:"order_id"`
	TestCode       string         `db:"test_code" json:"test_code"`
	TestName       string         `db:"test_name" json:"test_name"`
	SampleType     *string        `db:"sample_type" json:"sample_type,omitempty"`
	Value          *string        `db:"value" json:"value,omitempty"`
	Units          *string        `db:"units" json:"units,omitempty"`
	ReferenceRange *string        `db:"reference_range" json:"reference_range,omitempty"`
	RefLow         *float64       `db:"ref_low" json:"ref_low,omitempty"`
	RefHigh        *float64       `db:"ref_high" json:"ref_high,omitempty"`
	CritLow        *float64       `db:"crit_low" json:"crit_low,omitempty"`
	CritHigh       *float64       `db:"crit_high" json:"crit_high,omitempty"`
	AbnormalFlag   *string        `db:"abnormal_flag" json:"abnormal_flag,omitempty"`
	Status         ItemStatus     `db:"status" json:"status"`
	Classification Classification `db:"classification" json:"classification,omitempty"`
	DeltaFlag      bool           `db:"delta_flag" json:"delta_flag"`
	DeltaPercent   *float64       `db:"delta_percent" json:"delta_percent,omitempty"`
	AnalyzerID     *uuid.UUID     `db:"analyzer_id" json:"analyzer_id,omitempty"`
	ResultedAt     *time.Time     `db:"resulted_at" json:"resulted_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderNote maps to the order_notes table. Notes form the review trail of an
// order: approvals, approval cancellations, and reruns record who said what.
type OrderNote struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	OrderID   uuid.UUID  `db:"order_id" json:"order_id"`
	ItemID    *uuid.UUID `db:"item_id" json:"item_id,omitempty"`
	Event     string     `db:"event" json:"event"`
	Note      string     `db:"note" json:"note"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// RawResult maps to the raw_results table. It holds analyzer observations
// that could not be matched to an order item; keeping them queryable lets the
// bench resolve mapping gaps without replaying the analyzer.
type RawResult struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	AnalyzerID     uuid.UUID       `db:"analyzer_id" json:"analyzer_id"`
	SampleBarcode  string          `db:"sample_barcode" json:"sample_barcode"`
	TestCode       string          `db:"test_code" json:"test_code"`
	TestName       *string         `db:"test_name" json:"test_name,omitempty"`
	Value          string          `db:"value" json:"value"`
	Units          *string         `db:"units" json:"units,omitempty"`
	ReferenceRange *string         `db:"reference_range" json:"reference_range,omitempty"`
	AbnormalFlag   *string         `db:"abnormal_flag" json:"abnormal_flag,omitempty"`
	ObservedAt     *time.Time      `db:"observed_at" json:"observed_at,omitempty"`
	Status         RawResultStatus `db:"status" json:"status"`
	MappedItemID   *uuid.UUID      `db:"mapped_item_id" json:"mapped_item_id,omitempty"`
	ReceivedAt     time.Time       `db:"received_at" json:"received_at"`
}
