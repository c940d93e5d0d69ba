package analyzer

import (
	"time"

	"github.com/google/uuid"

	"github.com/his/lis/internal/platform/connection"
)

// Protocol is the wire protocol an analyzer speaks.
type Protocol string

const (
	ProtocolHL7v2 Protocol = "hl7v2"
	ProtocolASTM  Protocol = "astm"
)

// Analyzer maps to the analyzers table. Mode decides which connection
// settings apply: listen/connect use Host+Port, serial uses SerialPort+BaudRate.
type Analyzer struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Code       string          `db:"code" json:"code"`
	Name       string          `db:"name" json:"name"`
	Model      *string         `db:"model" json:"model,omitempty"`
	Protocol   Protocol        `db:"protocol" json:"protocol"`
	Mode       connection.Mode `db:"mode" json:"mode"`
	Host       *string         `db:"host" json:"host,omitempty"`
	Port       *int            `db:"port" json:"port,omitempty"`
	SerialPort *string         `db:"serial_port" json:"serial_port,omitempty"`
	BaudRate   *int            `db:"baud_rate" json:"baud_rate,omitempty"`
	Active     bool            `db:"active" json:"active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// ConnectionSettings builds the connection manager settings for the analyzer.
func (a *Analyzer) ConnectionSettings() connection.Settings {
	s := connection.Settings{Mode: a.Mode}
	if a.Host != nil {
		s.Host = *a.Host
	}
	if a.Port != nil {
		s.Port = *a.Port
	}
	if a.SerialPort != nil {
		s.SerialPort = *a.SerialPort
	}
	if a.BaudRate != nil {
		s.BaudRate = *a.BaudRate
	}
	return s
}

// TestMapping maps to the analyzer_test_mappings table. It translates the
// analyzer's local test code into the LIS test code; ConversionFactor scales
// numeric values (1.0 means the units already agree).
type TestMapping struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AnalyzerID       uuid.UUID `db:"analyzer_id" json:"analyzer_id"`
	AnalyzerCode     string    `db:"analyzer_code" json:"analyzer_code"`
	TestCode         string    `db:"test_code" json:"test_code"`
	SampleType       *string   `db:"sample_type" json:"sample_type,omitempty"`
	ConversionFactor float64   `db:"conversion_factor" json:"conversion_factor"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ConnectionLog maps to the connection_logs table and records lifecycle
// events per analyzer (connected, disconnected, errors, frames).
type ConnectionLog struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AnalyzerID uuid.UUID `db:"analyzer_id" json:"analyzer_id"`
	Event      string    `db:"event" json:"event"`
	Detail     *string   `db:"detail" json:"detail,omitempty"`
	At         time.Time `db:"at" json:"at"`
}

// WorklistStatus tracks a worklist download to an analyzer.
type WorklistStatus string

const (
	WorklistSent         WorklistStatus = "sent"
	WorklistAcknowledged WorklistStatus = "acknowledged"
	WorklistResulted     WorklistStatus = "resulted"
)

// WorklistEntry maps to the worklist_entries table.
type WorklistEntry struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	AnalyzerID    uuid.UUID      `db:"analyzer_id" json:"analyzer_id"`
	OrderID       uuid.UUID      `db:"order_id" json:"order_id"`
	SampleBarcode string         `db:"sample_barcode" json:"sample_barcode"`
	Status        WorklistStatus `db:"status" json:"status"`
	SentAt        time.Time      `db:"sent_at" json:"sent_at"`
}
