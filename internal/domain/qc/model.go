package qc

import (
	"time"

	"github.com/google/uuid"
)

// QCStatus is the Westgard verdict for a single control run.
type QCStatus string

const (
	QCAccepted QCStatus = "accepted"
	QCWarning  QCStatus = "warning"
	QCRejected QCStatus = "rejected"
)

// QCLot maps to the qc_lots table: one control material lot for one test on
// one analyzer, with its assigned mean and standard deviation.
type QCLot struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AnalyzerID uuid.UUID `db:"analyzer_id" json:"analyzer_id"`
	TestCode   string    `db:"test_code" json:"test_code"`
	LotNo      string    `db:"lot_no" json:"lot_no"`
	Level      string    `db:"level" json:"level"`
	Mean       float64   `db:"mean" json:"mean"`
	SD         float64   `db:"sd" json:"sd"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// QCResult maps to the qc_results table: one control measurement with its
// computed z-score and the rule that fired, if any.
type QCResult struct {
	ID     uuid.UUID `db:"id" json:"id"`
	LotID  uuid.UUID `db:"lot_id" json:"lot_id"`
	Value  float64   `db:"value" json:"value"`
	Z      float64   `db:"z" json:"z"`
	Status QCStatus  `db:"status" json:"status"`
	Rule   string    `db:"rule" json:"rule,omitempty"`
	RunAt  time.Time `db:"run_at" json:"run_at"`
}

// ChartPoint is one plotted control run on a Levey-Jennings chart.
type ChartPoint struct {
	RunAt  time.Time `json:"run_at"`
	Value  float64   `json:"value"`
	Z      float64   `json:"z"`
	Status QCStatus  `json:"status"`
	Rule   string    `json:"rule,omitempty"`
}

// Chart is a Levey-Jennings chart: the lot's control bands plus the
// chronological run points.
type Chart struct {
	Lot     *QCLot       `json:"lot"`
	Mean    float64      `json:"mean"`
	Plus1SD float64      `json:"plus_1sd"`
	Plus2SD float64      `json:"plus_2sd"`
	Plus3SD float64      `json:"plus_3sd"`
	Min1SD  float64      `json:"minus_1sd"`
	Min2SD  float64      `json:"minus_2sd"`
	Min3SD  float64      `json:"minus_3sd"`
	Points  []ChartPoint `json:"points"`
}
