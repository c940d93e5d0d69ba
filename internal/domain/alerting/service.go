package alerting

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/his/lis/internal/domain/laborder"
)

// Notifier is the fire-and-forget notification entry point.
type Notifier interface {
	NotifyAsync(event string, data map[string]string)
}

// Service implements the critical-value engine and the delta-check engine.
// It satisfies laborder.CriticalReporter and laborder.DeltaChecker.
type Service struct {
	alerts           AlertRepository
	delta            DeltaRepository
	notifier         Notifier
	defaultThreshold float64
	logger           zerolog.Logger
}

// NewService builds the alerting service. defaultThreshold is the delta-check
// percentage used for tests without a configured override.
func NewService(alerts AlertRepository, delta DeltaRepository, defaultThreshold float64, logger zerolog.Logger) *Service {
	return &Service{
		alerts:           alerts,
		delta:            delta,
		defaultThreshold: defaultThreshold,
		logger:           logger.With().Str("component", "alerting").Logger(),
	}
}

// SetNotifier attaches the outbound notifier (optional).
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// -- Critical value engine --

// Report raises a critical alert for a resulted item. Deduplicated on
// (order item, classification): a re-transmitted result never produces a
// second alert.
func (s *Service) Report(ctx context.Context, patientID string, item *laborder.LabOrderItem) error {
	if !item.Classification.IsCritical() {
		return fmt.Errorf("item %s classification %q is not critical", item.TestCode, item.Classification)
	}

	existing, err := s.alerts.FindByItemAndClass(ctx, item.ID, string(item.Classification))
	if err != nil {
		return fmt.Errorf("look up existing alert: %w", err)
	}
	if existing != nil {
		return nil
	}

	value := ""
	if item.Value != nil {
		value = *item.Value
	}
	alert := &CriticalAlert{
		OrderID:        item.OrderID,
		OrderItemID:    item.ID,
		PatientID:      patientID,
		TestCode:       item.TestCode,
		Value:          value,
		Classification: string(item.Classification),
		Status:         AlertOpen,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}

	s.logger.Warn().
		Str("patient_id", patientID).
		Str("test", item.TestCode).
		Str("value", value).
		Str("classification", string(item.Classification)).
		Msg("critical value")

	if s.notifier != nil {
		s.notifier.NotifyAsync("critical-value", map[string]string{
			"patient_id":     patientID,
			"test_code":      item.TestCode,
			"value":          value,
			"classification": string(item.Classification),
		})
	}
	return nil
}

func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*CriticalAlert, int, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, fmt.Errorf("to must not precede from")
	}
	return s.alerts.List(ctx, filter, limit, offset)
}

// Acknowledge marks the alert as seen. Acknowledging an already acknowledged
// alert is a no-op and keeps the original acknowledgement.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, ackBy string) (*CriticalAlert, error) {
	if ackBy == "" {
		return nil, fmt.Errorf("ack_by is required")
	}
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == AlertAcknowledged {
		return alert, nil
	}

	now := time.Now().UTC()
	alert.Status = AlertAcknowledged
	alert.AckBy = &ackBy
	alert.AckAt = &now
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// -- Delta-check engine --

// Check compares the new value against the patient's most recent prior
// result for the same test. It is advisory: a flag never blocks the result.
// A missing or zero prior skips the check.
func (s *Service) Check(ctx context.Context, patientID, testCode string, value float64, excludeOrderID uuid.UUID) (bool, float64, error) {
	prev, err := s.delta.PriorValue(ctx, patientID, testCode, excludeOrderID)
	if err != nil {
		return false, 0, fmt.Errorf("prior value: %w", err)
	}
	if prev == nil || *prev == 0 {
		return false, 0, nil
	}

	percent := math.Abs(value-*prev) / math.Abs(*prev) * 100

	threshold := s.defaultThreshold
	if override, err := s.delta.Threshold(ctx, testCode); err != nil {
		s.logger.Warn().Err(err).Str("test", testCode).Msg("threshold lookup failed, using default")
	} else if override != nil {
		threshold = *override
	}

	return percent > threshold, percent, nil
}

func (s *Service) SetThreshold(ctx context.Context, t *DeltaThreshold) error {
	if t.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if t.Percent <= 0 {
		return fmt.Errorf("percent must be positive")
	}
	return s.delta.UpsertThreshold(ctx, t)
}

func (s *Service) ListThresholds(ctx context.Context) ([]*DeltaThreshold, error) {
	return s.delta.ListThresholds(ctx)
}
