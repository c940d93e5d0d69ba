package laborder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/his/lis/internal/platform/hl7v2"
)

// MappingResolver translates an analyzer-local test code into the LIS test
// code, with an optional unit conversion factor. Implemented by the analyzer
// registry.
type MappingResolver interface {
	Resolve(ctx context.Context, analyzerID uuid.UUID, analyzerCode string) (testCode string, factor float64, err error)
}

// DeltaChecker compares a new numeric result against the patient's most
// recent prior result for the same test. Implemented by the alerting domain.
type DeltaChecker interface {
	Check(ctx context.Context, patientID, testCode string, value float64, excludeOrderID uuid.UUID) (flagged bool, percent float64, err error)
}

// CriticalReporter raises a critical-value alert for a resulted item.
// Implemented by the alerting domain.
type CriticalReporter interface {
	Report(ctx context.Context, patientID string, item *LabOrderItem) error
}

// Notifier is the fire-and-forget notification entry point.
type Notifier interface {
	NotifyAsync(event string, data map[string]string)
}

// WorklistTracker closes out worklist downloads once an order's results are
// complete. Implemented by the analyzer registry.
type WorklistTracker interface {
	MarkResulted(ctx context.Context, orderID uuid.UUID) error
}

// Service implements the result matching pipeline and the order state
// machine.
type Service struct {
	orders    OrderRepository
	items     ItemRepository
	raws      RawResultRepository
	notes     NoteRepository
	mappings  MappingResolver
	delta     DeltaChecker
	criticals CriticalReporter
	notifier  Notifier
	worklists WorklistTracker
	logger    zerolog.Logger
	locks     orderLocks
}

func NewService(orders OrderRepository, items ItemRepository, raws RawResultRepository, notes NoteRepository, logger zerolog.Logger) *Service {
	return &Service{
		orders: orders,
		items:  items,
		raws:   raws,
		notes:  notes,
		logger: logger.With().Str("component", "laborder").Logger(),
	}
}

// SetMappingResolver attaches the analyzer test-code mapping (optional; an
// unset resolver means codes pass through unchanged).
func (s *Service) SetMappingResolver(m MappingResolver) { s.mappings = m }

// SetDeltaChecker attaches the delta-check engine (optional).
func (s *Service) SetDeltaChecker(d DeltaChecker) { s.delta = d }

// SetCriticalReporter attaches the critical-value engine (optional).
func (s *Service) SetCriticalReporter(c CriticalReporter) { s.criticals = c }

// SetNotifier attaches the outbound notifier (optional).
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetWorklistTracker attaches the worklist status tracker (optional).
func (s *Service) SetWorklistTracker(w WorklistTracker) { s.worklists = w }

// orderLocks serializes result processing per order. Mutexes are never
// reclaimed; the set of in-flight orders stays small.
type orderLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sync.Mutex
}

func (l *orderLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uuid.UUID]*sync.Mutex)
	}
	lk, ok := l.m[id]
	if !ok {
		lk = &sync.Mutex{}
		l.m[id] = lk
	}
	l.mu.Unlock()

	lk.Lock()
	return lk.Unlock
}

// -- Order CRUD --

func (s *Service) CreateOrder(ctx context.Context, o *LabOrder) error {
	if o.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if o.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("at least one test item is required")
	}
	for _, it := range o.Items {
		if it.TestCode == "" {
			return fmt.Errorf("test_code is required on every item")
		}
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	if o.Status != OrderPending && o.Status != OrderCollected {
		return fmt.Errorf("new orders must start as %s or %s", OrderPending, OrderCollected)
	}
	if o.Status == OrderCollected && (o.SampleBarcode == nil || *o.SampleBarcode == "") {
		return fmt.Errorf("sample_barcode is required for a collected order")
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return err
	}
	for _, it := range o.Items {
		it.OrderID = o.ID
		it.Status = ItemPending
		if err := s.items.Create(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Service) SearchOrders(ctx context.Context, params map[string]string, limit, offset int) ([]*LabOrder, int, error) {
	return s.orders.Search(ctx, params, limit, offset)
}

// CollectSample attaches a sample barcode to the order and marks it
// collected.
func (s *Service) CollectSample(ctx context.Context, orderID uuid.UUID, barcode string) (*LabOrder, error) {
	if barcode == "" {
		return nil, fmt.Errorf("sample_barcode is required")
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, OrderCollected); err != nil {
		return nil, err
	}
	o.SampleBarcode = &barcode
	o.Status = OrderCollected
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) (*LabOrder, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(o.Status, OrderCancelled); err != nil {
		return nil, err
	}
	o.Status = OrderCancelled
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// -- Audit notes --

// appendNote records a review-trail note for the order. Note persistence is
// best-effort: a failed write is logged, never surfaced to the caller.
func (s *Service) appendNote(ctx context.Context, orderID uuid.UUID, itemID *uuid.UUID, event, note string) {
	if s.notes == nil || note == "" {
		return
	}
	n := &OrderNote{OrderID: orderID, ItemID: itemID, Event: event, Note: note}
	if err := s.notes.Create(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("order note not recorded")
	}
}

func (s *Service) ListNotes(ctx context.Context, orderID uuid.UUID) ([]*OrderNote, error) {
	if s.notes == nil {
		return nil, nil
	}
	return s.notes.ListByOrder(ctx, orderID)
}

// -- Analyzer result pipeline --

// ProcessReport summarizes the handling of one inbound frame.
type ProcessReport struct {
	Matched   int      `json:"matched"`
	Unmatched int      `json:"unmatched"`
	Faults    []string `json:"faults,omitempty"`
}

// ProcessFrame decodes an inbound ORU frame and routes each observation into
// the matching pipeline. Non-ORU messages are ignored. Segment-level decode
// faults are reported but never abort the remaining observations.
func (s *Service) ProcessFrame(ctx context.Context, analyzerID uuid.UUID, frame []byte) (*ProcessReport, error) {
	msg, err := hl7v2.Parse(frame)
	if err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	report := &ProcessReport{}
	if !msg.IsORU() {
		s.logger.Debug().Str("type", msg.Type).Msg("ignoring non-ORU message")
		return report, nil
	}

	observations, faults := msg.ExtractObservations()
	for _, f := range faults {
		report.Faults = append(report.Faults, f.Error())
		s.logger.Warn().Str("analyzer_id", analyzerID.String()).Msg(f.Error())
	}

	for _, obs := range observations {
		matched, err := s.ProcessObservation(ctx, analyzerID, obs)
		if err != nil {
			report.Faults = append(report.Faults, err.Error())
			s.logger.Error().Err(err).
				Str("barcode", obs.SampleBarcode).Str("test", obs.TestCode).
				Msg("observation processing failed")
			continue
		}
		if matched {
			report.Matched++
		} else {
			report.Unmatched++
		}
	}
	return report, nil
}

// ProcessObservation matches one observation to an order item by
// (sample barcode, test code) after applying the analyzer's test mapping.
// Unmatched observations are stored as pending raw results.
func (s *Service) ProcessObservation(ctx context.Context, analyzerID uuid.UUID, obs hl7v2.Observation) (bool, error) {
	code := obs.TestCode
	factor := 1.0
	if s.mappings != nil {
		mapped, f, err := s.mappings.Resolve(ctx, analyzerID, obs.TestCode)
		if err != nil {
			return false, fmt.Errorf("resolve mapping for %s: %w", obs.TestCode, err)
		}
		code, factor = mapped, f
	}
	value := applyFactor(obs.Value, factor)

	order, err := s.orders.GetBySampleBarcode(ctx, obs.SampleBarcode)
	if err != nil {
		return false, s.stashRaw(ctx, analyzerID, obs, code, value)
	}
	if order.Status == OrderCancelled || order.Status == OrderApproved {
		return false, s.stashRaw(ctx, analyzerID, obs, code, value)
	}

	unlock := s.locks.lock(order.ID)
	defer unlock()

	items, err := s.items.ListByOrder(ctx, order.ID)
	if err != nil {
		return false, err
	}
	var target *LabOrderItem
	for _, it := range items {
		if it.TestCode == code && it.Status != ItemApproved {
			target = it
			break
		}
	}
	if target == nil {
		return false, s.stashRaw(ctx, analyzerID, obs, code, value)
	}

	return true, s.applyResult(ctx, order, target, resultInput{
		Value:          value,
		Units:          obs.Units,
		ReferenceRange: obs.ReferenceRange,
		AbnormalFlag:   obs.AbnormalFlag,
		AnalyzerID:     &analyzerID,
		ResultedAt:     observedAtPtr(obs.ObservedAt),
	})
}

func observedAtPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func applyFactor(value string, factor float64) string {
	if factor == 0 || factor == 1 {
		return value
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return value
	}
	return strconv.FormatFloat(v*factor, 'f', -1, 64)
}

func (s *Service) stashRaw(ctx context.Context, analyzerID uuid.UUID, obs hl7v2.Observation, code, value string) error {
	rr := &RawResult{
		AnalyzerID:    analyzerID,
		SampleBarcode: obs.SampleBarcode,
		TestCode:      code,
		Value:         value,
		Status:        RawPending,
		ObservedAt:    observedAtPtr(obs.ObservedAt),
	}
	if obs.TestName != "" {
		rr.TestName = &obs.TestName
	}
	if obs.Units != "" {
		rr.Units = &obs.Units
	}
	if obs.ReferenceRange != "" {
		rr.ReferenceRange = &obs.ReferenceRange
	}
	if obs.AbnormalFlag != "" {
		rr.AbnormalFlag = &obs.AbnormalFlag
	}
	if err := s.raws.Create(ctx, rr); err != nil {
		return fmt.Errorf("store raw result: %w", err)
	}
	s.logger.Info().
		Str("barcode", obs.SampleBarcode).Str("test", code).
		Msg("unmatched observation stored as raw result")
	return nil
}

// resultInput carries the fields a result applies onto an item.
type resultInput struct {
	Value          string
	Units          string
	ReferenceRange string
	AbnormalFlag   string
	AnalyzerID     *uuid.UUID
	ResultedAt     *time.Time
}

// applyResult writes the result onto the item, classifies it, runs the delta
// check, raises critical alerts and recomputes the order aggregate. Callers
// must hold the order lock.
func (s *Service) applyResult(ctx context.Context, order *LabOrder, item *LabOrderItem, in resultInput) error {
	item.Value = &in.Value
	if in.Units != "" {
		item.Units = &in.Units
	}
	if in.ReferenceRange != "" {
		item.ReferenceRange = &in.ReferenceRange
	}
	if in.AbnormalFlag != "" {
		item.AbnormalFlag = &in.AbnormalFlag
	}
	item.AnalyzerID = in.AnalyzerID
	item.Status = ItemResulted
	resultedAt := time.Now().UTC()
	if in.ResultedAt != nil {
		resultedAt = *in.ResultedAt
	}
	item.ResultedAt = &resultedAt

	item.Classification = ClassifyItem(item)

	item.DeltaFlag = false
	item.DeltaPercent = nil
	if s.delta != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(in.Value), 64); err == nil {
			flagged, percent, err := s.delta.Check(ctx, order.PatientID, item.TestCode, v, order.ID)
			if err != nil {
				s.logger.Warn().Err(err).Str("test", item.TestCode).Msg("delta check failed")
			} else if flagged {
				item.DeltaFlag = true
				item.DeltaPercent = &percent
			}
		}
	}

	if err := s.items.Update(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	if item.Classification.IsCritical() && s.criticals != nil {
		if err := s.criticals.Report(ctx, order.PatientID, item); err != nil {
			s.logger.Error().Err(err).Str("test", item.TestCode).Msg("critical alert failed")
		}
	}

	return s.recomputeAggregate(ctx, order)
}

// recomputeAggregate advances the order status from the state of its items:
// every item resulted or approved means the order is ready for approval.
func (s *Service) recomputeAggregate(ctx context.Context, order *LabOrder) error {
	items, err := s.items.ListByOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	allDone := len(items) > 0
	for _, it := range items {
		if it.Status != ItemResulted && it.Status != ItemApproved {
			allDone = false
			break
		}
	}

	now := time.Now().UTC()
	if order.ProcessingStart == nil {
		order.ProcessingStart = &now
	}
	if allDone {
		order.Status = OrderPendingApproval
		if order.ProcessingEnd == nil {
			order.ProcessingEnd = &now
		}
	} else {
		order.Status = OrderProcessing
		order.ProcessingEnd = nil
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return err
	}

	if allDone && s.worklists != nil {
		if err := s.worklists.MarkResulted(ctx, order.ID); err != nil {
			s.logger.Warn().Err(err).Str("order_no", order.OrderNo).Msg("worklist update failed")
		}
	}
	return nil
}

// -- Manual operations --

// EnterResult records a manually entered result for an order item.
func (s *Service) EnterResult(ctx context.Context, orderID, itemID uuid.UUID, value, units string) (*LabOrderItem, error) {
	if value == "" {
		return nil, fmt.Errorf("value is required")
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCancelled || order.Status == OrderApproved {
		return nil, fmt.Errorf("cannot enter result on %s order %s", order.Status, order.OrderNo)
	}
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OrderID != orderID {
		return nil, fmt.Errorf("item %s does not belong to order %s", itemID, orderID)
	}
	if item.Status == ItemApproved {
		return nil, fmt.Errorf("item %s is already approved", item.TestCode)
	}
	if err := s.applyResult(ctx, order, item, resultInput{Value: value, Units: units}); err != nil {
		return nil, err
	}
	return item, nil
}

// RerunItem sends an item back for repeat testing and reopens the order. The
// reason, when given, lands in the order's note trail.
func (s *Service) RerunItem(ctx context.Context, orderID, itemID uuid.UUID, reason string) (*LabOrderItem, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCancelled {
		return nil, fmt.Errorf("cannot rerun item on %s order %s", order.Status, order.OrderNo)
	}
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OrderID != orderID {
		return nil, fmt.Errorf("item %s does not belong to order %s", itemID, orderID)
	}
	if item.Status == ItemApproved {
		return nil, fmt.Errorf("cannot rerun approved item %s", item.TestCode)
	}

	item.Status = ItemRerun
	item.Classification = ClassNone
	item.DeltaFlag = false
	item.DeltaPercent = nil
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}

	if order.Status == OrderPendingApproval || order.Status == OrderPreliminaryApproved {
		order.Status = OrderProcessing
		order.ProcessingEnd = nil
		if err := s.orders.Update(ctx, order); err != nil {
			return nil, err
		}
	}
	s.appendNote(ctx, orderID, &item.ID, "rerun", reason)
	return item, nil
}

// -- Approval workflow --

// PreliminaryApprove marks a fully-resulted order as reviewed but not final.
func (s *Service) PreliminaryApprove(ctx context.Context, orderID uuid.UUID, note string) (*LabOrder, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(order.Status, OrderPreliminaryApproved); err != nil {
		return nil, err
	}
	order.Status = OrderPreliminaryApproved
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	s.appendNote(ctx, orderID, nil, "preliminary-approved", note)
	return order, nil
}

// FinalApprove releases the order. Every item must carry a result; the error
// for a partial order names the outstanding test codes.
func (s *Service) FinalApprove(ctx context.Context, orderID uuid.UUID, approvedBy, note string) (*LabOrder, error) {
	if approvedBy == "" {
		return nil, fmt.Errorf("approved_by is required")
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Check the items before the transition so a partial order reports its
	// outstanding test codes rather than a generic state error.
	items, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, it := range items {
		if it.Status != ItemResulted && it.Status != ItemApproved {
			missing = append(missing, it.TestCode)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("cannot approve order %s: unresulted tests: %s",
			order.OrderNo, strings.Join(missing, ", "))
	}
	if err := ValidateTransition(order.Status, OrderApproved); err != nil {
		return nil, err
	}

	for _, it := range items {
		if it.Status != ItemApproved {
			it.Status = ItemApproved
			if err := s.items.Update(ctx, it); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	order.Status = OrderApproved
	order.ApprovedBy = &approvedBy
	order.ApprovedAt = &now
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.appendNote(ctx, orderID, nil, "approved", note)
	if s.notifier != nil {
		s.notifier.NotifyAsync("result-ready", map[string]string{
			"order_no":   order.OrderNo,
			"patient_id": order.PatientID,
		})
	}
	return order, nil
}

// CancelApproval reopens an approved or preliminarily approved order for
// review. The reason is mandatory: pulling back a released result always
// leaves a trace.
func (s *Service) CancelApproval(ctx context.Context, orderID uuid.UUID, reason string) (*LabOrder, error) {
	if reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderApproved && order.Status != OrderPreliminaryApproved {
		return nil, &TransitionError{From: order.Status, To: OrderPendingApproval}
	}

	items, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Status == ItemApproved {
			it.Status = ItemResulted
			if err := s.items.Update(ctx, it); err != nil {
				return nil, err
			}
		}
	}

	order.Status = OrderPendingApproval
	order.ApprovedBy = nil
	order.ApprovedAt = nil
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	s.appendNote(ctx, orderID, nil, "approval-cancelled", reason)
	return order, nil
}

// -- Raw result resolution --

func (s *Service) ListRawResults(ctx context.Context, status RawResultStatus, analyzerID *uuid.UUID, limit, offset int) ([]*RawResult, int, error) {
	return s.raws.List(ctx, status, analyzerID, limit, offset)
}

// ManuallyMapResult applies a pending raw result to the chosen order item.
func (s *Service) ManuallyMapResult(ctx context.Context, rawID, itemID uuid.UUID) (*LabOrderItem, error) {
	raw, err := s.raws.GetByID(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if raw.Status != RawPending {
		return nil, fmt.Errorf("raw result %s is %s, only pending results can be mapped", rawID, raw.Status)
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == ItemApproved {
		return nil, fmt.Errorf("item %s is already approved", item.TestCode)
	}

	unlock := s.locks.lock(item.OrderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, item.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCancelled || order.Status == OrderApproved {
		return nil, fmt.Errorf("cannot map result onto %s order %s", order.Status, order.OrderNo)
	}

	in := resultInput{
		Value:      raw.Value,
		AnalyzerID: &raw.AnalyzerID,
		ResultedAt: raw.ObservedAt,
	}
	if raw.Units != nil {
		in.Units = *raw.Units
	}
	if raw.ReferenceRange != nil {
		in.ReferenceRange = *raw.ReferenceRange
	}
	if raw.AbnormalFlag != nil {
		in.AbnormalFlag = *raw.AbnormalFlag
	}
	if err := s.applyResult(ctx, order, item, in); err != nil {
		return nil, err
	}

	raw.Status = RawManualMapped
	raw.MappedItemID = &item.ID
	if err := s.raws.Update(ctx, raw); err != nil {
		return nil, err
	}
	return item, nil
}

// IgnoreRawResult discards a pending raw result.
func (s *Service) IgnoreRawResult(ctx context.Context, rawID uuid.UUID) (*RawResult, error) {
	raw, err := s.raws.GetByID(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if raw.Status != RawPending {
		return nil, fmt.Errorf("raw result %s is %s, only pending results can be ignored", rawID, raw.Status)
	}
	raw.Status = RawIgnored
	if err := s.raws.Update(ctx, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// -- Worklist source --

// WorklistOrder builds the worklist view of a collected order for download to
// an analyzer.
func (s *Service) WorklistOrder(ctx context.Context, orderID uuid.UUID) (hl7v2.WorklistOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return hl7v2.WorklistOrder{}, err
	}
	if order.SampleBarcode == nil || *order.SampleBarcode == "" {
		return hl7v2.WorklistOrder{}, fmt.Errorf("order %s has no sample barcode", order.OrderNo)
	}

	items, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return hl7v2.WorklistOrder{}, err
	}

	wl := hl7v2.WorklistOrder{
		OrderNo:       order.OrderNo,
		PatientID:     order.PatientID,
		SampleBarcode: *order.SampleBarcode,
	}
	for _, it := range items {
		if it.Status == ItemPending || it.Status == ItemRerun {
			wl.Tests = append(wl.Tests, hl7v2.WorklistTest{Code: it.TestCode, Name: it.TestName})
		}
	}
	if len(wl.Tests) == 0 {
		return hl7v2.WorklistOrder{}, fmt.Errorf("order %s has no pending tests", order.OrderNo)
	}
	return wl, nil
}
