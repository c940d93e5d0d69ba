// Package connection manages long-lived links to laboratory analyzers. Each
// analyzer gets one session in one of three modes: an MLLP listener the
// analyzer dials into, an outbound TCP connection to the analyzer, or a
// serial port. Sessions surface raw frames and status changes as events on a
// shared channel; frame processing happens on the consumer side, never on a
// session's read loop.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status describes the link state of a single analyzer session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusListening    Status = "listening"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Mode selects how the session reaches the analyzer.
type Mode string

const (
	ModeListen  Mode = "listen"  // analyzer dials into us (MLLP server)
	ModeConnect Mode = "connect" // we dial the analyzer (MLLP client)
	ModeSerial  Mode = "serial"  // RS-232 attached analyzer
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventFrameReceived EventType = "frame_received"
	EventAckReceived   EventType = "ack_received"
	EventStatusChanged EventType = "status_changed"
	EventError         EventType = "error"
)

// Event is emitted by sessions onto the manager's event channel.
type Event struct {
	AnalyzerID uuid.UUID
	Type       EventType
	Frame      []byte // raw HL7v2 bytes, set for EventFrameReceived
	Status     Status // set for EventStatusChanged
	Err        error  // set for EventError
	Remote     string
	At         time.Time
}

// Settings holds per-analyzer transport configuration.
type Settings struct {
	Mode       Mode
	Host       string
	Port       int
	SerialPort string
	BaudRate   int
}

// session is the common surface of the three transport implementations.
type session interface {
	start() error
	stop()
	status() Status
	send(frame []byte) error
}

// Manager owns one session per analyzer and fans all session events into a
// single channel.
type Manager struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]session
	events       chan Event
	logger       zerolog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewManager creates a connection manager. Events must be drained by exactly
// one consumer. Frame and ack events are delivered reliably, blocking the
// session's read loop when the consumer falls behind; status and error events
// are dropped and logged when the buffer is full.
func NewManager(logger zerolog.Logger, readTimeout, writeTimeout time.Duration) *Manager {
	return &Manager{
		sessions:     make(map[uuid.UUID]session),
		events:       make(chan Event, 1024),
		logger:       logger.With().Str("component", "connection-manager").Logger(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Events returns the shared event channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start opens a session for the analyzer. Starting an already running
// analyzer is an error; stop it first.
func (m *Manager) Start(analyzerID uuid.UUID, cfg Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.sessions[analyzerID]; running {
		return fmt.Errorf("connection: analyzer %s already running", analyzerID)
	}

	var s session
	switch cfg.Mode {
	case ModeListen:
		s = newListenSession(m, analyzerID, cfg)
	case ModeConnect:
		s = newClientSession(m, analyzerID, cfg)
	case ModeSerial:
		s = newSerialSession(m, analyzerID, cfg)
	default:
		return fmt.Errorf("connection: unknown mode %q", cfg.Mode)
	}

	if err := s.start(); err != nil {
		m.emit(Event{AnalyzerID: analyzerID, Type: EventError, Err: err})
		return err
	}

	m.sessions[analyzerID] = s
	return nil
}

// Stop closes the analyzer's session. Stopping an analyzer that is not
// running is a no-op.
func (m *Manager) Stop(analyzerID uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[analyzerID]
	if ok {
		delete(m.sessions, analyzerID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.stop()
	m.emit(Event{AnalyzerID: analyzerID, Type: EventStatusChanged, Status: StatusDisconnected})
}

// StopAll shuts down every session. Used on server shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.stop()
		m.emit(Event{AnalyzerID: id, Type: EventStatusChanged, Status: StatusDisconnected})
	}
}

// Status reports the link state for an analyzer. Analyzers without a session
// are disconnected.
func (m *Manager) Status(analyzerID uuid.UUID) Status {
	m.mu.Lock()
	s, ok := m.sessions[analyzerID]
	m.mu.Unlock()

	if !ok {
		return StatusDisconnected
	}
	return s.status()
}

// Running reports whether a session exists for the analyzer.
func (m *Manager) Running(analyzerID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[analyzerID]
	return ok
}

// Send transmits a raw HL7v2 frame (e.g. a worklist ORM) to the analyzer.
func (m *Manager) Send(analyzerID uuid.UUID, frame []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[analyzerID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("connection: analyzer %s is not connected", analyzerID)
	}
	return s.send(frame)
}

// emit delivers an event onto the shared channel. Frames and acks have
// already been acknowledged on the wire, so losing them would lose results;
// they block until the consumer catches up. Status and error events are
// advisory and may be dropped under backpressure.
func (m *Manager) emit(evt Event) {
	evt.At = time.Now().UTC()
	switch evt.Type {
	case EventFrameReceived, EventAckReceived:
		m.events <- evt
	default:
		select {
		case m.events <- evt:
		default:
			m.logger.Warn().
				Str("analyzer_id", evt.AnalyzerID.String()).
				Str("event", string(evt.Type)).
				Msg("event buffer full, dropping event")
		}
	}
}
