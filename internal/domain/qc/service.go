package qc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service manages control lots, runs Westgard evaluation, and builds
// Levey-Jennings charts.
type Service struct {
	lots    LotRepository
	results ResultRepository
	logger  zerolog.Logger
}

func NewService(lots LotRepository, results ResultRepository, logger zerolog.Logger) *Service {
	return &Service{
		lots:    lots,
		results: results,
		logger:  logger.With().Str("component", "qc").Logger(),
	}
}

func (s *Service) CreateLot(ctx context.Context, lot *QCLot) error {
	if lot.AnalyzerID == uuid.Nil {
		return fmt.Errorf("analyzer_id is required")
	}
	if lot.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if lot.LotNo == "" {
		return fmt.Errorf("lot_no is required")
	}
	if lot.SD <= 0 {
		return fmt.Errorf("sd must be positive")
	}
	lot.Active = true
	return s.lots.Create(ctx, lot)
}

func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (*QCLot, error) {
	return s.lots.GetByID(ctx, id)
}

func (s *Service) ListLots(ctx context.Context, analyzerID *uuid.UUID, activeOnly bool, limit, offset int) ([]*QCLot, int, error) {
	return s.lots.List(ctx, analyzerID, activeOnly, limit, offset)
}

// RunQC evaluates one control measurement against the lot and records the
// verdict. A rejected run is stored like any other; acting on it is the
// operator's call.
func (s *Service) RunQC(ctx context.Context, lotID uuid.UUID, value float64, runAt time.Time) (*QCResult, error) {
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}
	if !lot.Active {
		return nil, fmt.Errorf("lot %s (%s) is inactive", lot.LotNo, lot.TestCode)
	}
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	z, status, rule := Evaluate(value, lot.Mean, lot.SD)
	res := &QCResult{
		LotID:  lotID,
		Value:  value,
		Z:      z,
		Status: status,
		Rule:   rule,
		RunAt:  runAt,
	}
	if err := s.results.Create(ctx, res); err != nil {
		return nil, err
	}

	if status == QCRejected {
		s.logger.Warn().
			Str("lot", lot.LotNo).
			Str("test", lot.TestCode).
			Float64("value", value).
			Float64("z", z).
			Str("rule", rule).
			Msg("qc run rejected")
	}
	return res, nil
}

func (s *Service) ListResults(ctx context.Context, lotID uuid.UUID) ([]*QCResult, error) {
	if _, err := s.lots.GetByID(ctx, lotID); err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}
	return s.results.ListByLot(ctx, lotID)
}

// LeveyJennings builds the chart for a lot: the mean and SD bands plus every
// run in chronological order.
func (s *Service) LeveyJennings(ctx context.Context, lotID uuid.UUID) (*Chart, error) {
	lot, err := s.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}
	runs, err := s.results.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	chart := &Chart{
		Lot:     lot,
		Mean:    lot.Mean,
		Plus1SD: lot.Mean + lot.SD,
		Plus2SD: lot.Mean + 2*lot.SD,
		Plus3SD: lot.Mean + 3*lot.SD,
		Min1SD:  lot.Mean - lot.SD,
		Min2SD:  lot.Mean - 2*lot.SD,
		Min3SD:  lot.Mean - 3*lot.SD,
		Points:  make([]ChartPoint, 0, len(runs)),
	}
	for _, r := range runs {
		chart.Points = append(chart.Points, ChartPoint{
			RunAt:  r.RunAt,
			Value:  r.Value,
			Z:      r.Z,
			Status: r.Status,
			Rule:   r.Rule,
		})
	}
	return chart, nil
}

// ExportLeveyJennings renders the chart as an xlsx workbook.
func (s *Service) ExportLeveyJennings(ctx context.Context, lotID uuid.UUID) ([]byte, error) {
	chart, err := s.LeveyJennings(ctx, lotID)
	if err != nil {
		return nil, err
	}
	return renderChartXLSX(chart)
}
