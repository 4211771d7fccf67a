// Package session keeps the persistent stream connection to the decision
// service alive: reconnects, heartbeats and length-prefixed framing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"signal-executor/internal/events"
	"signal-executor/internal/signal"
	"signal-executor/pkg/venue"
)

// ErrNotConnected is returned by Send while the session is down.
var ErrNotConnected = errors.New("session not connected")

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Info is the registration payload sent as EA_INFO after each connect.
type Info struct {
	InstanceID  string `json:"instance_id"`
	Name        string `json:"name"`
	StrategyTag int64  `json:"strategy_tag"`
	Version     string `json:"version"`
}

// Config controls connection handling.
type Config struct {
	Addr              string
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	// StaleAfter drops a connection that has been silent this long; 0 disables.
	StaleAfter time.Duration
	// IOTimeout bounds dials and writes.
	IOTimeout time.Duration
	// ReadWindow bounds how long one drain waits for inbound bytes.
	ReadWindow    time.Duration
	MaxFrameBytes int
	Info          Info
}

// Status is a copy of the connection bookkeeping.
type Status struct {
	State               string    `json:"state"`
	IsConnected         bool      `json:"is_connected"`
	LastHeartbeatSent   time.Time `json:"last_heartbeat_sent"`
	LastMessageReceived time.Time `json:"last_message_received"`
	Reconnects          int       `json:"reconnects"`
}

// Dialer opens the underlying connection.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Manager owns one stream connection. Like the rest of the engine it is
// driven from the tick handler only.
type Manager struct {
	cfg  Config
	dial Dialer
	bus  *events.Bus
	log  *slog.Logger

	conn          net.Conn
	state         State
	buf           []byte
	lastAttempt   time.Time
	lastHeartbeat time.Time
	lastReceived  time.Time
	reconnects    int
}

// New creates a session manager dialing cfg.Addr over TCP.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 2 * time.Second
	}
	if cfg.ReadWindow <= 0 {
		cfg.ReadWindow = 5 * time.Millisecond
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	d := &net.Dialer{}
	return &Manager{
		cfg:  cfg,
		dial: d.DialContext,
		bus:  bus,
		log:  logger.With("component", "session", "addr", cfg.Addr),
	}
}

// State returns the current connection state.
func (m *Manager) State() State { return m.state }

// Connected reports whether the session may deliver signals.
func (m *Manager) Connected() bool { return m.state == StateConnected }

// Status returns a copy of the connection bookkeeping.
func (m *Manager) Status() Status {
	return Status{
		State:               m.state.String(),
		IsConnected:         m.Connected(),
		LastHeartbeatSent:   m.lastHeartbeat,
		LastMessageReceived: m.lastReceived,
		Reconnects:          m.reconnects,
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.bus != nil {
		m.bus.Publish(events.EventSessionState, m.Status())
	}
}

// Service runs connection housekeeping for one tick: reconnect when due,
// drop a stale link, and send the heartbeat with the account snapshot.
func (m *Manager) Service(ctx context.Context, snap *venue.AccountSnapshot, now time.Time) {
	if m.state != StateConnected {
		if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.cfg.ReconnectInterval {
			return
		}
		m.connect(ctx, now)
		return
	}

	if m.cfg.StaleAfter > 0 && now.Sub(m.lastReceived) > m.cfg.StaleAfter {
		m.log.Warn("no traffic, dropping connection", "silent_for", now.Sub(m.lastReceived))
		m.disconnect()
		return
	}

	if now.Sub(m.lastHeartbeat) >= m.cfg.HeartbeatInterval {
		if err := m.Send(signal.TypeHeartbeat, map[string]any{"instance_id": m.cfg.Info.InstanceID}, now); err != nil {
			return
		}
		m.lastHeartbeat = now
		if snap != nil {
			_ = m.Send(signal.TypeAccountStatus, snap, now)
		}
	}
}

func (m *Manager) connect(ctx context.Context, now time.Time) {
	m.lastAttempt = now
	m.setState(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.IOTimeout)
	defer cancel()
	conn, err := m.dial(dctx, m.cfg.Addr)
	if err != nil {
		m.log.Warn("connect failed", "err", err, "retry_in", m.cfg.ReconnectInterval)
		m.setState(StateDisconnected)
		return
	}

	m.conn = conn
	m.buf = m.buf[:0]
	m.lastReceived = now
	m.lastHeartbeat = now
	m.reconnects++
	m.setState(StateConnected)
	m.log.Info("connected")

	if err := m.Send(signal.TypeEAInfo, m.cfg.Info, now); err != nil {
		m.log.Warn("registration failed", "err", err)
	}
}

func (m *Manager) disconnect() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.buf = nil
	m.setState(StateDisconnected)
}

// Close drops the connection.
func (m *Manager) Close() error {
	m.disconnect()
	return nil
}

// Send writes one framed envelope. Any failure drops the connection.
func (m *Manager) Send(msgType string, data any, now time.Time) error {
	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(signal.Envelope{Type: msgType, Data: raw, Timestamp: signal.Timestamp{Time: now}})
	if err != nil {
		return err
	}

	_ = m.conn.SetWriteDeadline(time.Now().Add(m.cfg.IOTimeout))
	if _, err := m.conn.Write(EncodeFrame(payload)); err != nil {
		m.log.Warn("write failed, disconnecting", "type", msgType, "err", err)
		m.disconnect()
		return err
	}
	return nil
}

// Drain returns the complete frames that arrived since the last call,
// waiting at most ReadWindow. Partial frames are kept for the next tick.
// A read failure or oversized frame drops the connection and discards
// everything buffered.
func (m *Manager) Drain(now time.Time) [][]byte {
	if m.state != StateConnected || m.conn == nil {
		return nil
	}

	chunk := make([]byte, 4096)
	deadline := time.Now().Add(m.cfg.ReadWindow)
	for reads := 0; reads < 256; reads++ {
		_ = m.conn.SetReadDeadline(deadline)
		n, err := m.conn.Read(chunk)
		if n > 0 {
			m.buf = append(m.buf, chunk[:n]...)
			m.lastReceived = now
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			m.log.Warn("read failed, disconnecting", "err", err)
			m.disconnect()
			return nil
		}
	}

	frames, rest, err := splitFrames(m.buf, m.cfg.MaxFrameBytes)
	if err != nil {
		m.log.Warn("bad frame, disconnecting", "err", err)
		m.disconnect()
		return nil
	}
	m.buf = rest
	return frames
}
