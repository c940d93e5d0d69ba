package connection

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/his/lis/internal/platform/hl7v2"
)

// maxFrameSize bounds the receive buffer for a single frame (1 MB).
const maxFrameSize = 1 << 20

// ---------------------------------------------------------------------------
// Listen mode: the analyzer dials into an MLLP server we host.
// ---------------------------------------------------------------------------

type listenSession struct {
	mgr        *Manager
	analyzerID uuid.UUID
	cfg        Settings
	server     *hl7v2.MLLPServer

	mu sync.Mutex
	st Status
}

func newListenSession(mgr *Manager, analyzerID uuid.UUID, cfg Settings) *listenSession {
	return &listenSession{mgr: mgr, analyzerID: analyzerID, cfg: cfg, st: StatusDisconnected}
}

func (s *listenSession) start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = hl7v2.NewMLLPServer(addr, s.handleMessage)
	s.server.SetReadTimeout(s.mgr.readTimeout)
	s.server.SetLogger(func(format string, args ...interface{}) {
		s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError, Err: fmt.Errorf(format, args...)})
	})
	s.server.OnConnect(func(remote string) {
		s.setStatus(StatusConnected, remote)
	})
	s.server.OnDisconnect(func(remote string) {
		s.setStatus(StatusListening, remote)
	})

	if err := s.server.Start(); err != nil {
		s.setStatus(StatusError, "")
		return err
	}
	s.setStatus(StatusListening, "")
	return nil
}

func (s *listenSession) handleMessage(msg *hl7v2.Message) *hl7v2.Message {
	if strings.HasPrefix(msg.Type, "ACK") {
		s.mgr.emit(Event{
			AnalyzerID: s.analyzerID,
			Type:       EventAckReceived,
			Frame:      hl7v2.SerializeMessage(msg),
		})
		return nil
	}
	s.mgr.emit(Event{
		AnalyzerID: s.analyzerID,
		Type:       EventFrameReceived,
		Frame:      hl7v2.SerializeMessage(msg),
	})
	return hl7v2.GenerateACK(msg, "AA")
}

func (s *listenSession) stop() {
	if s.server != nil {
		s.server.Stop()
	}
}

func (s *listenSession) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *listenSession) setStatus(st Status, remote string) {
	s.mu.Lock()
	changed := s.st != st
	s.st = st
	s.mu.Unlock()

	if changed {
		s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventStatusChanged, Status: st, Remote: remote})
	}
}

func (s *listenSession) send(frame []byte) error {
	if s.server == nil {
		return fmt.Errorf("connection: listener not started")
	}
	return s.server.Broadcast(frame)
}

// ---------------------------------------------------------------------------
// Stream mode: a single bidirectional byte stream we open ourselves. Covers
// outbound TCP (connect mode) and serial ports; only the dial step differs.
// ---------------------------------------------------------------------------

type streamSession struct {
	mgr        *Manager
	analyzerID uuid.UUID
	open       func() (io.ReadWriteCloser, string, error)

	mu     sync.Mutex
	st     Status
	stream io.ReadWriteCloser
	done   chan struct{}
	wg     sync.WaitGroup
}

func newClientSession(mgr *Manager, analyzerID uuid.UUID, cfg Settings) *streamSession {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &streamSession{
		mgr:        mgr,
		analyzerID: analyzerID,
		st:         StatusDisconnected,
		open: func() (io.ReadWriteCloser, string, error) {
			conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
			if err != nil {
				return nil, "", fmt.Errorf("connection: dial %s: %w", addr, err)
			}
			return conn, conn.RemoteAddr().String(), nil
		},
	}
}

func newSerialSession(mgr *Manager, analyzerID uuid.UUID, cfg Settings) *streamSession {
	return &streamSession{
		mgr:        mgr,
		analyzerID: analyzerID,
		st:         StatusDisconnected,
		open: func() (io.ReadWriteCloser, string, error) {
			mode := &serial.Mode{BaudRate: cfg.BaudRate}
			port, err := serial.Open(cfg.SerialPort, mode)
			if err != nil {
				return nil, "", fmt.Errorf("connection: open serial port %s: %w", cfg.SerialPort, err)
			}
			// A short timeout keeps the read loop responsive to stop().
			port.SetReadTimeout(time.Second)
			return port, cfg.SerialPort, nil
		},
	}
}

func (s *streamSession) start() error {
	stream, remote, err := s.open()
	if err != nil {
		s.setStatus(StatusError, "")
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.setStatus(StatusConnected, remote)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(stream)
	}()

	return nil
}

// readLoop accumulates bytes and extracts complete MLLP frames. Parsed
// messages are emitted as events and ACKed on the same stream; processing of
// the frame happens downstream.
func (s *streamSession) readLoop(stream io.ReadWriteCloser) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if conn, ok := stream.(net.Conn); ok {
			conn.SetReadDeadline(time.Now().Add(s.mgr.readTimeout))
		}

		n, err := stream.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			if len(buf) > maxFrameSize {
				s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError,
					Err: fmt.Errorf("connection: frame exceeds max size")})
				s.closeStream()
				s.setStatus(StatusError, "")
				return
			}

			for {
				msgBytes, rest, found := hl7v2.UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest
				s.handleFrame(stream, msgBytes)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				// Deliberate stop, no error event.
			default:
				s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError,
					Err: fmt.Errorf("connection: read: %w", err)})
				s.setStatus(StatusError, "")
			}
			return
		}
	}
}

func (s *streamSession) handleFrame(stream io.Writer, raw []byte) {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError,
			Err: fmt.Errorf("connection: parse frame: %w", err)})
		nak := hl7v2.SerializeMessage(hl7v2.GenerateNAK(raw))
		if _, werr := stream.Write(hl7v2.FrameMessage(nak)); werr != nil {
			s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError,
				Err: fmt.Errorf("connection: write nak: %w", werr)})
		}
		return
	}
	if strings.HasPrefix(msg.Type, "ACK") {
		s.mgr.emit(Event{
			AnalyzerID: s.analyzerID,
			Type:       EventAckReceived,
			Frame:      append([]byte(nil), raw...),
		})
		return
	}

	s.mgr.emit(Event{
		AnalyzerID: s.analyzerID,
		Type:       EventFrameReceived,
		Frame:      append([]byte(nil), raw...),
	})

	ack := hl7v2.SerializeMessage(hl7v2.GenerateACK(msg, "AA"))
	if _, err := stream.Write(hl7v2.FrameMessage(ack)); err != nil {
		s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventError,
			Err: fmt.Errorf("connection: write ack: %w", err)})
	}
}

func (s *streamSession) stop() {
	s.mu.Lock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	s.mu.Unlock()

	s.closeStream()
	s.wg.Wait()
}

func (s *streamSession) closeStream() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

func (s *streamSession) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *streamSession) setStatus(st Status, remote string) {
	s.mu.Lock()
	changed := s.st != st
	s.st = st
	s.mu.Unlock()

	if changed {
		s.mgr.emit(Event{AnalyzerID: s.analyzerID, Type: EventStatusChanged, Status: st, Remote: remote})
	}
}

func (s *streamSession) send(frame []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("connection: stream closed")
	}
	if conn, ok := stream.(net.Conn); ok {
		conn.SetWriteDeadline(time.Now().Add(s.mgr.writeTimeout))
	}
	if _, err := stream.Write(hl7v2.FrameMessage(frame)); err != nil {
		return fmt.Errorf("connection: send frame: %w", err)
	}
	return nil
}
