package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const historySize = 32

// socket is the websocket plumbing shared by all vendor adapters: a guarded
// writer, a read pump that feeds a vendor-specific handler, connection-state
// bookkeeping, and graceful close with a forced-terminate fallback.
type socket struct {
	logger *slog.Logger
	events chan Event

	writeMu sync.Mutex
	conn    *websocket.Conn

	stateMu      sync.Mutex
	lastEventAt  time.Time
	lastErrorAt  time.Time
	activeRespID string
	activeStatus string
	outbound

	closeOnce sync.Once
	done      chan struct{}
}

// outbound is a bounded ring of recently sent event types for diagnostics.
type outbound struct {
	history []string
	next    int
}

func (o *outbound) record(typ string) {
	if o.history == nil {
		o.history = make([]string, 0, historySize)
	}
	if len(o.history) < historySize {
		o.history = append(o.history, typ)
		return
	}
	o.history[o.next] = typ
	o.next = (o.next + 1) % historySize
}

func newSocket(logger *slog.Logger) *socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &socket{
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

func (s *socket) dial(ctx context.Context, url string, header http.Header) error {
	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	return nil
}

// sendJSON writes one client event and records its type in the history ring.
func (s *socket) sendJSON(typ string, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.noteError()
		return fmt.Errorf("write %s: %w", typ, err)
	}
	s.stateMu.Lock()
	s.outbound.record(typ)
	s.stateMu.Unlock()
	return nil
}

// readPump drains the socket, forwarding each text message to handle. It
// emits SocketClosed and closes the event channel when the socket dies.
func (s *socket) readPump(handle func(data []byte)) {
	for {
		s.writeMu.Lock()
		conn := s.conn
		s.writeMu.Unlock()
		if conn == nil {
			s.finish(0, "closed before read")
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			s.finish(code, reason)
			return
		}
		s.noteEvent()
		handle(data)
	}
}

// emit delivers an event unless the consumer has stopped draining; a full
// channel drops the event rather than wedging the read pump.
func (s *socket) emit(ev Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		s.logger.Warn("realtime event dropped, consumer not draining",
			slog.String("type", ev.eventType()))
	}
}

// finish emits SocketClosed exactly once and closes the event stream.
func (s *socket) finish(code int, reason string) {
	s.closeOnce.Do(func() {
		select {
		case s.events <- SocketClosed{Code: code, Reason: reason}:
		default:
		}
		close(s.done)
		close(s.events)
	})
}

// close performs a graceful shutdown: a close frame, a bounded wait for the
// peer, then a forced terminate.
func (s *socket) close() error {
	s.writeMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeMu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		conn.Close()
		s.finish(websocket.CloseAbnormalClosure, "forced terminate")
		return nil
	}
	conn.SetReadDeadline(deadline)

	err := conn.Close()
	s.finish(websocket.CloseNormalClosure, "client close")
	return err
}

func (s *socket) noteEvent() {
	s.stateMu.Lock()
	s.lastEventAt = time.Now()
	s.stateMu.Unlock()
}

func (s *socket) noteError() {
	s.stateMu.Lock()
	s.lastErrorAt = time.Now()
	s.stateMu.Unlock()
}

func (s *socket) setActiveResponse(id, status string) {
	s.stateMu.Lock()
	s.activeRespID = id
	s.activeStatus = status
	s.stateMu.Unlock()
}
