package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/his/lis/internal/platform/connection"
	"github.com/his/lis/internal/platform/hl7v2"
)

// ConnectionManager is the subset of the connection manager the registry
// drives.
type ConnectionManager interface {
	Start(id uuid.UUID, cfg connection.Settings) error
	Stop(id uuid.UUID)
	Status(id uuid.UUID) connection.Status
	Running(id uuid.UUID) bool
	Send(id uuid.UUID, frame []byte) error
}

// WorklistSource provides the order view needed to build a worklist
// download. Implemented by the laborder domain.
type WorklistSource interface {
	WorklistOrder(ctx context.Context, orderID uuid.UUID) (hl7v2.WorklistOrder, error)
}

// Service manages the analyzer registry, test mappings, connection lifecycle
// and worklist downloads.
type Service struct {
	analyzers AnalyzerRepository
	mappings  MappingRepository
	logs      ConnectionLogRepository
	worklists WorklistRepository
	manager   ConnectionManager
	orders    WorklistSource
	logger    zerolog.Logger
}

func NewService(analyzers AnalyzerRepository, mappings MappingRepository, logs ConnectionLogRepository,
	worklists WorklistRepository, manager ConnectionManager, logger zerolog.Logger) *Service {
	return &Service{
		analyzers: analyzers,
		mappings:  mappings,
		logs:      logs,
		worklists: worklists,
		manager:   manager,
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}
}

// SetWorklistSource attaches the order source used for worklist downloads.
func (s *Service) SetWorklistSource(src WorklistSource) { s.orders = src }

var validProtocols = map[Protocol]bool{
	ProtocolHL7v2: true,
	ProtocolASTM:  true,
}

var validModes = map[connection.Mode]bool{
	connection.ModeListen:  true,
	connection.ModeConnect: true,
	connection.ModeSerial:  true,
}

func validateAnalyzer(a *Analyzer) error {
	if a.Code == "" {
		return fmt.Errorf("code is required")
	}
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validProtocols[a.Protocol] {
		return fmt.Errorf("invalid protocol: %s", a.Protocol)
	}
	if !validModes[a.Mode] {
		return fmt.Errorf("invalid mode: %s", a.Mode)
	}
	switch a.Mode {
	case connection.ModeListen, connection.ModeConnect:
		if a.Host == nil || *a.Host == "" {
			return fmt.Errorf("host is required for %s mode", a.Mode)
		}
		if a.Port == nil || *a.Port <= 0 || *a.Port > 65535 {
			return fmt.Errorf("a valid port is required for %s mode", a.Mode)
		}
	case connection.ModeSerial:
		if a.SerialPort == nil || *a.SerialPort == "" {
			return fmt.Errorf("serial_port is required for serial mode")
		}
		if a.BaudRate == nil || *a.BaudRate <= 0 {
			return fmt.Errorf("a valid baud_rate is required for serial mode")
		}
	}
	return nil
}

// -- Registry --

func (s *Service) Register(ctx context.Context, a *Analyzer) error {
	if err := validateAnalyzer(a); err != nil {
		return err
	}
	if existing, err := s.analyzers.GetByCode(ctx, a.Code); err == nil && existing != nil {
		return fmt.Errorf("analyzer code %s is already registered", a.Code)
	}
	a.Active = true
	return s.analyzers.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Analyzer, error) {
	return s.analyzers.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Analyzer, int, error) {
	return s.analyzers.List(ctx, activeOnly, limit, offset)
}

// Update replaces the analyzer's settings. A running connection keeps its old
// settings until it is stopped and started again.
func (s *Service) Update(ctx context.Context, a *Analyzer) error {
	if err := validateAnalyzer(a); err != nil {
		return err
	}
	current, err := s.analyzers.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	a.Code = current.Code // code is immutable
	return s.analyzers.Update(ctx, a)
}

// Deactivate stops any running connection and retires the analyzer.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	a, err := s.analyzers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s.manager.Running(id) {
		s.manager.Stop(id)
	}
	a.Active = false
	return s.analyzers.Update(ctx, a)
}

// -- Connection lifecycle --

// StartConnection opens the analyzer's session according to its configured
// mode.
func (s *Service) StartConnection(ctx context.Context, id uuid.UUID) error {
	a, err := s.analyzers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !a.Active {
		return fmt.Errorf("analyzer %s is deactivated", a.Code)
	}
	if err := s.manager.Start(id, a.ConnectionSettings()); err != nil {
		return err
	}
	s.logger.Info().Str("analyzer", a.Code).Str("mode", string(a.Mode)).Msg("connection started")
	return nil
}

// StopConnection shuts the analyzer's session down. Stopping an already
// stopped analyzer is a no-op.
func (s *Service) StopConnection(ctx context.Context, id uuid.UUID) error {
	if _, err := s.analyzers.GetByID(ctx, id); err != nil {
		return err
	}
	s.manager.Stop(id)
	return nil
}

// ConnectionState is the live view of one analyzer connection.
type ConnectionState struct {
	AnalyzerID uuid.UUID         `json:"analyzer_id"`
	Status     connection.Status `json:"status"`
	Running    bool              `json:"running"`
}

func (s *Service) ConnectionStatus(ctx context.Context, id uuid.UUID) (*ConnectionState, error) {
	if _, err := s.analyzers.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return &ConnectionState{
		AnalyzerID: id,
		Status:     s.manager.Status(id),
		Running:    s.manager.Running(id),
	}, nil
}

// RecordConnectionEvent persists a connection lifecycle event. Invoked by the
// event dispatcher for status changes and session errors.
func (s *Service) RecordConnectionEvent(ctx context.Context, analyzerID uuid.UUID, event, detail string) error {
	l := &ConnectionLog{
		AnalyzerID: analyzerID,
		Event:      event,
		At:         time.Now().UTC(),
	}
	if detail != "" {
		l.Detail = &detail
	}
	return s.logs.Create(ctx, l)
}

func (s *Service) ListConnectionLogs(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*ConnectionLog, int, error) {
	return s.logs.ListByAnalyzer(ctx, analyzerID, limit, offset)
}

// -- Worklist download --

// SendWorklist builds an ORM^O01 for the order and pushes it down the
// analyzer's open session.
func (s *Service) SendWorklist(ctx context.Context, analyzerID, orderID uuid.UUID) (*WorklistEntry, error) {
	if s.orders == nil {
		return nil, fmt.Errorf("no worklist source configured")
	}
	a, err := s.analyzers.GetByID(ctx, analyzerID)
	if err != nil {
		return nil, err
	}
	if !s.manager.Running(analyzerID) {
		return nil, fmt.Errorf("analyzer %s has no active connection", a.Code)
	}

	wl, err := s.orders.WorklistOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	frame, err := hl7v2.GenerateWorklistORM(wl)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Send(analyzerID, frame); err != nil {
		return nil, fmt.Errorf("send worklist to %s: %w", a.Code, err)
	}

	entry := &WorklistEntry{
		AnalyzerID:    analyzerID,
		OrderID:       orderID,
		SampleBarcode: wl.SampleBarcode,
		Status:        WorklistSent,
		SentAt:        time.Now().UTC(),
	}
	if err := s.worklists.Create(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info().Str("analyzer", a.Code).Str("order_no", wl.OrderNo).Msg("worklist sent")
	return entry, nil
}

// SendWorklistBatch downloads several orders down one session. Orders go out
// in the given sequence; the first failure stops the batch and the returned
// entries show how far it got.
func (s *Service) SendWorklistBatch(ctx context.Context, analyzerID uuid.UUID, orderIDs []uuid.UUID) ([]*WorklistEntry, error) {
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("at least one order is required")
	}
	entries := make([]*WorklistEntry, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		entry, err := s.SendWorklist(ctx, analyzerID, orderID)
		if err != nil {
			return entries, fmt.Errorf("order %s: %w", orderID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) ListWorklist(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*WorklistEntry, int, error) {
	return s.worklists.ListByAnalyzer(ctx, analyzerID, limit, offset)
}

// AcknowledgeWorklist records that the analyzer ACKed a download. Analyzers
// process one download at a time, so the ACK closes every outstanding sent
// entry for that analyzer.
func (s *Service) AcknowledgeWorklist(ctx context.Context, analyzerID uuid.UUID) error {
	return s.worklists.MarkAcknowledged(ctx, analyzerID)
}

// MarkResulted advances the order's worklist entries once its results are in.
func (s *Service) MarkResulted(ctx context.Context, orderID uuid.UUID) error {
	return s.worklists.MarkResultedByOrder(ctx, orderID)
}

// -- Test mappings --

func (s *Service) AddMapping(ctx context.Context, m *TestMapping) error {
	if m.AnalyzerID == uuid.Nil {
		return fmt.Errorf("analyzer_id is required")
	}
	if m.AnalyzerCode == "" || m.TestCode == "" {
		return fmt.Errorf("analyzer_code and test_code are required")
	}
	if m.ConversionFactor == 0 {
		m.ConversionFactor = 1
	}
	if _, err := s.analyzers.GetByID(ctx, m.AnalyzerID); err != nil {
		return err
	}
	return s.mappings.Create(ctx, m)
}

func (s *Service) ListMappings(ctx context.Context, analyzerID uuid.UUID) ([]*TestMapping, error) {
	return s.mappings.ListByAnalyzer(ctx, analyzerID)
}

func (s *Service) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	return s.mappings.Delete(ctx, id)
}

// Resolve translates an analyzer-local test code. Unmapped codes pass
// through unchanged with a factor of 1.
func (s *Service) Resolve(ctx context.Context, analyzerID uuid.UUID, analyzerCode string) (string, float64, error) {
	m, err := s.mappings.GetByAnalyzerCode(ctx, analyzerID, analyzerCode)
	if err != nil || m == nil {
		return analyzerCode, 1, nil
	}
	factor := m.ConversionFactor
	if factor == 0 {
		factor = 1
	}
	return m.TestCode, factor, nil
}
