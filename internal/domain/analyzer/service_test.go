package analyzer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/his/lis/internal/platform/connection"
	"github.com/his/lis/internal/platform/hl7v2"
)

// ---------------------------------------------------------------------------
// Map-backed mock repositories
// ---------------------------------------------------------------------------

type mockAnalyzerRepo struct {
	mu        sync.Mutex
	analyzers map[uuid.UUID]*Analyzer
}

func newMockAnalyzerRepo() *mockAnalyzerRepo {
	return &mockAnalyzerRepo{analyzers: make(map[uuid.UUID]*Analyzer)}
}

func (m *mockAnalyzerRepo) Create(_ context.Context, a *Analyzer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	m.analyzers[a.ID] = &cp
	return nil
}

func (m *mockAnalyzerRepo) GetByID(_ context.Context, id uuid.UUID) (*Analyzer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyzers[id]
	if !ok {
		return nil, fmt.Errorf("analyzer not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAnalyzerRepo) GetByCode(_ context.Context, code string) (*Analyzer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.analyzers {
		if a.Code == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("analyzer not found")
}

func (m *mockAnalyzerRepo) Update(_ context.Context, a *Analyzer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyzers[a.ID]; !ok {
		return fmt.Errorf("analyzer not found")
	}
	cp := *a
	m.analyzers[a.ID] = &cp
	return nil
}

func (m *mockAnalyzerRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Analyzer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Analyzer
	for _, a := range m.analyzers {
		if activeOnly && !a.Active {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockMappingRepo struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*TestMapping
}

func newMockMappingRepo() *mockMappingRepo {
	return &mockMappingRepo{mappings: make(map[uuid.UUID]*TestMapping)}
}

func (m *mockMappingRepo) Create(_ context.Context, tm *TestMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm.ID = uuid.New()
	cp := *tm
	m.mappings[tm.ID] = &cp
	return nil
}

func (m *mockMappingRepo) GetByAnalyzerCode(_ context.Context, analyzerID uuid.UUID, analyzerCode string) (*TestMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tm := range m.mappings {
		if tm.AnalyzerID == analyzerID && tm.AnalyzerCode == analyzerCode {
			cp := *tm
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("mapping not found")
}

func (m *mockMappingRepo) ListByAnalyzer(_ context.Context, analyzerID uuid.UUID) ([]*TestMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TestMapping
	for _, tm := range m.mappings {
		if tm.AnalyzerID == analyzerID {
			cp := *tm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockMappingRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, id)
	return nil
}

type mockLogRepo struct {
	mu   sync.Mutex
	logs []*ConnectionLog
}

func (m *mockLogRepo) Create(_ context.Context, l *ConnectionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.New()
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *mockLogRepo) ListByAnalyzer(_ context.Context, analyzerID uuid.UUID, limit, offset int) ([]*ConnectionLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ConnectionLog
	for _, l := range m.logs {
		if l.AnalyzerID == analyzerID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

type mockWorklistRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*WorklistEntry
}

func newMockWorklistRepo() *mockWorklistRepo {
	return &mockWorklistRepo{entries: make(map[uuid.UUID]*WorklistEntry)}
}

func (m *mockWorklistRepo) Create(_ context.Context, w *WorklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = uuid.New()
	cp := *w
	m.entries[w.ID] = &cp
	return nil
}

func (m *mockWorklistRepo) ListByAnalyzer(_ context.Context, analyzerID uuid.UUID, limit, offset int) ([]*WorklistEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WorklistEntry
	for _, w := range m.entries {
		if w.AnalyzerID == analyzerID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockWorklistRepo) MarkAcknowledged(_ context.Context, analyzerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.entries {
		if w.AnalyzerID == analyzerID && w.Status == WorklistSent {
			w.Status = WorklistAcknowledged
		}
	}
	return nil
}

func (m *mockWorklistRepo) MarkResultedByOrder(_ context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.entries {
		if w.OrderID == orderID && w.Status != WorklistResulted {
			w.Status = WorklistResulted
		}
	}
	return nil
}

// fakeManager is a scriptable connection manager double.
type fakeManager struct {
	mu       sync.Mutex
	running  map[uuid.UUID]bool
	sent     [][]byte
	startErr error
	sendErr  error
}

func newFakeManager() *fakeManager {
	return &fakeManager{running: make(map[uuid.UUID]bool)}
}

func (f *fakeManager) Start(id uuid.UUID, _ connection.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running[id] = true
	return nil
}

func (f *fakeManager) Stop(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
}

func (f *fakeManager) Status(id uuid.UUID) connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[id] {
		return connection.StatusConnected
	}
	return connection.StatusDisconnected
}

func (f *fakeManager) Running(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeManager) Send(id uuid.UUID, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.running[id] {
		return fmt.Errorf("no session")
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

type fakeWorklistSource struct {
	order hl7v2.WorklistOrder
	err   error
}

func (f *fakeWorklistSource) WorklistOrder(_ context.Context, _ uuid.UUID) (hl7v2.WorklistOrder, error) {
	return f.order, f.err
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newTestService() (*Service, *fakeManager, *mockAnalyzerRepo) {
	analyzers := newMockAnalyzerRepo()
	mgr := newFakeManager()
	svc := NewService(analyzers, newMockMappingRepo(), &mockLogRepo{}, newMockWorklistRepo(), mgr, zerolog.Nop())
	return svc, mgr, analyzers
}

func listenAnalyzer() *Analyzer {
	return &Analyzer{
		Code:     "CBC-01",
		Name:     "Hematology analyzer",
		Protocol: ProtocolHL7v2,
		Mode:     connection.ModeListen,
		Host:     strPtr("0.0.0.0"),
		Port:     intPtr(6661),
	}
}

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegister_Valid(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	if err := svc.Register(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Active {
		t.Error("registered analyzers must start active")
	}
	if a.ID == uuid.Nil {
		t.Error("expected an assigned id")
	}
}

func TestRegister_DuplicateCode(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.Register(context.Background(), listenAnalyzer()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := svc.Register(context.Background(), listenAnalyzer()); err == nil {
		t.Fatal("expected duplicate code to be rejected")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		a    *Analyzer
	}{
		{"missing code", &Analyzer{Name: "x", Protocol: ProtocolHL7v2, Mode: connection.ModeListen, Host: strPtr("h"), Port: intPtr(1)}},
		{"missing name", &Analyzer{Code: "x", Protocol: ProtocolHL7v2, Mode: connection.ModeListen, Host: strPtr("h"), Port: intPtr(1)}},
		{"bad protocol", &Analyzer{Code: "x", Name: "x", Protocol: "telnet", Mode: connection.ModeListen, Host: strPtr("h"), Port: intPtr(1)}},
		{"bad mode", &Analyzer{Code: "x", Name: "x", Protocol: ProtocolHL7v2, Mode: "fax"}},
		{"listen without host", &Analyzer{Code: "x", Name: "x", Protocol: ProtocolHL7v2, Mode: connection.ModeListen, Port: intPtr(1)}},
		{"connect without port", &Analyzer{Code: "x", Name: "x", Protocol: ProtocolHL7v2, Mode: connection.ModeConnect, Host: strPtr("h")}},
		{"serial without port", &Analyzer{Code: "x", Name: "x", Protocol: ProtocolASTM, Mode: connection.ModeSerial, BaudRate: intPtr(9600)}},
		{"serial without baud", &Analyzer{Code: "x", Name: "x", Protocol: ProtocolASTM, Mode: connection.ModeSerial, SerialPort: strPtr("/dev/ttyUSB0")}},
	}
	for _, tc := range cases {
		if err := svc.Register(ctx, tc.a); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestUpdate_CodeImmutable(t *testing.T) {
	svc, _, repo := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)

	a.Code = "RENAMED"
	a.Name = "New name"
	if err := svc.Update(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := repo.GetByID(context.Background(), a.ID)
	if got.Code != "CBC-01" {
		t.Errorf("code = %s, want CBC-01", got.Code)
	}
	if got.Name != "New name" {
		t.Errorf("name = %s, want New name", got.Name)
	}
}

func TestDeactivate_StopsConnection(t *testing.T) {
	svc, mgr, repo := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	if err := svc.StartConnection(context.Background(), a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.Deactivate(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mgr.Running(a.ID) {
		t.Error("expected connection stopped on deactivate")
	}
	got, _ := repo.GetByID(context.Background(), a.ID)
	if got.Active {
		t.Error("expected analyzer inactive")
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle tests
// ---------------------------------------------------------------------------

func TestStartConnection_DeactivatedAnalyzer(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.Deactivate(context.Background(), a.ID)

	if err := svc.StartConnection(context.Background(), a.ID); err == nil {
		t.Fatal("expected error starting a deactivated analyzer")
	}
}

func TestConnectionStatus(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)

	state, err := svc.ConnectionStatus(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Running || state.Status != connection.StatusDisconnected {
		t.Errorf("expected disconnected, got %+v", state)
	}

	svc.StartConnection(context.Background(), a.ID)
	state, _ = svc.ConnectionStatus(context.Background(), a.ID)
	if !state.Running {
		t.Error("expected running after start")
	}
}

func TestRecordConnectionEvent(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)

	if err := svc.RecordConnectionEvent(context.Background(), a.ID, "status_changed", "connected"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logs, total, _ := svc.ListConnectionLogs(context.Background(), a.ID, 10, 0)
	if total != 1 {
		t.Fatalf("expected 1 log, got %d", total)
	}
	if logs[0].Event != "status_changed" {
		t.Errorf("event = %s", logs[0].Event)
	}
}

// ---------------------------------------------------------------------------
// Worklist tests
// ---------------------------------------------------------------------------

func TestSendWorklist(t *testing.T) {
	svc, mgr, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.StartConnection(context.Background(), a.ID)

	svc.SetWorklistSource(&fakeWorklistSource{order: hl7v2.WorklistOrder{
		OrderNo:       "ORD-1",
		PatientID:     "P100",
		SampleBarcode: "BC-1",
		Tests:         []hl7v2.WorklistTest{{Code: "K", Name: "Potassium"}},
	}})

	entry, err := svc.SendWorklist(context.Background(), a.ID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != WorklistSent {
		t.Errorf("status = %s, want %s", entry.Status, WorklistSent)
	}
	if entry.SampleBarcode != "BC-1" {
		t.Errorf("barcode = %s", entry.SampleBarcode)
	}

	if len(mgr.sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(mgr.sent))
	}
	msg, err := hl7v2.Parse(mgr.sent[0])
	if err != nil {
		t.Fatalf("sent frame does not parse: %v", err)
	}
	if msg.Type != "ORM^O01" {
		t.Errorf("message type = %s, want ORM^O01", msg.Type)
	}
}

func TestWorklistLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.StartConnection(context.Background(), a.ID)

	orderID := uuid.New()
	svc.SetWorklistSource(&fakeWorklistSource{order: hl7v2.WorklistOrder{
		OrderNo:       "ORD-1",
		SampleBarcode: "BC-1",
		Tests:         []hl7v2.WorklistTest{{Code: "K"}},
	}})
	if _, err := svc.SendWorklist(context.Background(), a.ID, orderID); err != nil {
		t.Fatalf("SendWorklist: %v", err)
	}

	if err := svc.AcknowledgeWorklist(context.Background(), a.ID); err != nil {
		t.Fatalf("AcknowledgeWorklist: %v", err)
	}
	entries, _, _ := svc.ListWorklist(context.Background(), a.ID, 10, 0)
	if len(entries) != 1 || entries[0].Status != WorklistAcknowledged {
		t.Fatalf("expected acknowledged entry, got %+v", entries)
	}

	if err := svc.MarkResulted(context.Background(), orderID); err != nil {
		t.Fatalf("MarkResulted: %v", err)
	}
	entries, _, _ = svc.ListWorklist(context.Background(), a.ID, 10, 0)
	if entries[0].Status != WorklistResulted {
		t.Errorf("status = %s, want %s", entries[0].Status, WorklistResulted)
	}
}

func TestSendWorklistBatch(t *testing.T) {
	svc, mgr, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.StartConnection(context.Background(), a.ID)

	svc.SetWorklistSource(&fakeWorklistSource{order: hl7v2.WorklistOrder{
		OrderNo:       "ORD-1",
		SampleBarcode: "BC-1",
		Tests:         []hl7v2.WorklistTest{{Code: "K"}},
	}})

	entries, err := svc.SendWorklistBatch(context.Background(), a.ID, []uuid.UUID{uuid.New(), uuid.New(), uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if len(mgr.sent) != 3 {
		t.Errorf("expected 3 frames sent, got %d", len(mgr.sent))
	}
	for _, e := range entries {
		if e.Status != WorklistSent {
			t.Errorf("entry status = %s, want %s", e.Status, WorklistSent)
		}
	}

	if _, err := svc.SendWorklistBatch(context.Background(), a.ID, nil); err == nil {
		t.Error("expected error for an empty batch")
	}
}

func TestSendWorklistBatch_StopsOnFirstFailure(t *testing.T) {
	svc, mgr, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.StartConnection(context.Background(), a.ID)
	svc.SetWorklistSource(&fakeWorklistSource{order: hl7v2.WorklistOrder{
		OrderNo:       "ORD-1",
		SampleBarcode: "BC-1",
		Tests:         []hl7v2.WorklistTest{{Code: "K"}},
	}})

	if _, err := svc.SendWorklistBatch(context.Background(), a.ID, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	mgr.sendErr = fmt.Errorf("line busy")
	entries, err := svc.SendWorklistBatch(context.Background(), a.ID, []uuid.UUID{uuid.New(), uuid.New()})
	if err == nil {
		t.Fatal("expected error when the session rejects the frame")
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries from the failed batch, got %d", len(entries))
	}
}

func TestSendWorklist_RequiresConnection(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)
	svc.SetWorklistSource(&fakeWorklistSource{order: hl7v2.WorklistOrder{SampleBarcode: "BC-1",
		Tests: []hl7v2.WorklistTest{{Code: "K"}}}})

	if _, err := svc.SendWorklist(context.Background(), a.ID, uuid.New()); err == nil {
		t.Fatal("expected error without an active connection")
	}
}

// ---------------------------------------------------------------------------
// Mapping tests
// ---------------------------------------------------------------------------

func TestResolve_MappedAndUnmapped(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)

	if err := svc.AddMapping(context.Background(), &TestMapping{
		AnalyzerID:       a.ID,
		AnalyzerCode:     "K+",
		TestCode:         "K",
		ConversionFactor: 10,
	}); err != nil {
		t.Fatalf("add mapping: %v", err)
	}

	code, factor, err := svc.Resolve(context.Background(), a.ID, "K+")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "K" || factor != 10 {
		t.Errorf("resolve = %s/%v, want K/10", code, factor)
	}

	// Unmapped codes pass through.
	code, factor, _ = svc.Resolve(context.Background(), a.ID, "GLU")
	if code != "GLU" || factor != 1 {
		t.Errorf("resolve = %s/%v, want GLU/1", code, factor)
	}
}

func TestAddMapping_DefaultsFactor(t *testing.T) {
	svc, _, _ := newTestService()
	a := listenAnalyzer()
	svc.Register(context.Background(), a)

	m := &TestMapping{AnalyzerID: a.ID, AnalyzerCode: "HGB", TestCode: "HGB"}
	if err := svc.AddMapping(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ConversionFactor != 1 {
		t.Errorf("factor = %v, want 1", m.ConversionFactor)
	}
}

func TestAddMapping_UnknownAnalyzer(t *testing.T) {
	svc, _, _ := newTestService()
	err := svc.AddMapping(context.Background(), &TestMapping{
		AnalyzerID: uuid.New(), AnalyzerCode: "X", TestCode: "X",
	})
	if err == nil {
		t.Fatal("expected error for unknown analyzer")
	}
}
