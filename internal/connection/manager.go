// Package connection drives the feed connection lifecycle: dialling,
// snapshot-recovery state transitions, heartbeat liveness, and reconnection
// with exponential backoff.
package connection

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// State is one step of the connection lifecycle.
type State int32

const (
	// StateDisconnected means no socket is open.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the socket is up but no snapshot has been requested.
	StateConnected
	// StateSnapshotRequest means the handler is requesting a snapshot.
	StateSnapshotRequest
	// StateSnapshotReplay means snapshot data is being applied.
	StateSnapshotReplay
	// StateIncremental means live incremental updates are being processed.
	StateIncremental
	// StateReconnecting means a backoff-then-dial cycle is in flight.
	StateReconnecting
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSnapshotRequest:
		return "SNAPSHOT_REQUEST"
	case StateSnapshotReplay:
		return "SNAPSHOT_REPLAY"
	case StateIncremental:
		return "INCREMENTAL"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a connection to addr. Injectable for tests.
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Options configures a Manager.
type Options struct {
	Host             string
	Port             int
	HeartbeatTimeout time.Duration
	// InitialBackoff is the first reconnect delay; it doubles per attempt up
	// to MaxBackoff. Defaults to one second.
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DialTimeout     time.Duration
	RecvBufferBytes int
	Dial            DialFunc
}

// Manager owns one feed connection. All mutating methods are called from the
// reader goroutine only; State and heartbeat observers are safe to call from
// other goroutines.
type Manager struct {
	host             string
	port             int
	heartbeatTimeout time.Duration
	maxBackoff       time.Duration
	dialTimeout      time.Duration
	recvBufferBytes  int
	dial             DialFunc
	log              logger.Interface

	state             atomic.Int32
	lastMessageNs     atomic.Int64
	conn              net.Conn
	reconnectAttempts int
	initialBackoff    time.Duration
	currentBackoff    time.Duration
	snapshotRequested bool
}

// NewManager creates a manager in the Disconnected state.
func NewManager(opts Options, log logger.Interface) *Manager {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}

	m := &Manager{
		host:             opts.Host,
		port:             opts.Port,
		heartbeatTimeout: opts.HeartbeatTimeout,
		maxBackoff:       opts.MaxBackoff,
		dialTimeout:      opts.DialTimeout,
		recvBufferBytes:  opts.RecvBufferBytes,
		dial:             opts.Dial,
		log:              log,
		initialBackoff:   opts.InitialBackoff,
		currentBackoff:   opts.InitialBackoff,
	}
	if m.dial == nil {
		m.dial = m.dialTCP
	}
	m.lastMessageNs.Store(time.Now().UnixNano())
	return m
}

func (m *Manager) dialTCP(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		if m.recvBufferBytes > 0 {
			_ = tc.SetReadBuffer(m.recvBufferBytes)
		}
	}
	return conn, nil
}

// Connect dials the feed. On success the state becomes Connected, backoff
// and the reconnect counter reset, and the liveness clock restarts. Already
// being connected is a no-op.
func (m *Manager) Connect() error {
	if m.IsConnected() {
		return nil
	}

	m.state.Store(int32(StateConnecting))
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	m.log.Info("connecting", logger.Field{Key: "addr", Value: addr})

	conn, err := m.dial(addr, m.dialTimeout)
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		m.log.Error(err, logger.Field{Key: "addr", Value: addr})
		return err
	}

	m.conn = conn
	m.state.Store(int32(StateConnected))
	m.reconnectAttempts = 0
	m.currentBackoff = m.initialBackoff
	m.snapshotRequested = false
	m.UpdateLastMessageTime()

	m.log.Info("connected", logger.Field{Key: "addr", Value: addr})
	return nil
}

// Reconnect tears down the current socket, sleeps for the current backoff,
// doubles it up to the maximum, and dials again. The attempt counter is
// incremented before dialling; a successful dial resets it to zero, as
// Connect does.
func (m *Manager) Reconnect() error {
	m.Disconnect()

	m.reconnectAttempts++
	m.state.Store(int32(StateReconnecting))

	m.log.Info("reconnecting",
		logger.Field{Key: "attempt", Value: m.reconnectAttempts},
		logger.Field{Key: "backoff", Value: m.currentBackoff.String()},
	)

	time.Sleep(m.currentBackoff)

	m.currentBackoff *= 2
	if m.currentBackoff > m.maxBackoff {
		m.currentBackoff = m.maxBackoff
	}

	return m.Connect()
}

// Disconnect closes the socket if open. When called outside a reconnect
// cycle the state becomes Disconnected.
func (m *Manager) Disconnect() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if State(m.state.Load()) != StateReconnecting {
		m.state.Store(int32(StateDisconnected))
	}
}

// Conn returns the live socket, or nil when disconnected.
func (m *Manager) Conn() net.Conn {
	return m.conn
}

// TransitionToSnapshotRequest moves Connected -> SnapshotRequest. Any other
// starting state is a no-op.
func (m *Manager) TransitionToSnapshotRequest() {
	if State(m.state.Load()) == StateConnected {
		m.snapshotRequested = false
		m.state.Store(int32(StateSnapshotRequest))
		m.log.Info("state transition", logger.Field{Key: "state", Value: StateSnapshotRequest.String()})
	}
}

// MarkSnapshotRequested records that the snapshot request frame was sent.
func (m *Manager) MarkSnapshotRequested() {
	if State(m.state.Load()) == StateSnapshotRequest {
		m.snapshotRequested = true
	}
}

// TransitionToSnapshotReplay moves SnapshotRequest -> SnapshotReplay.
func (m *Manager) TransitionToSnapshotReplay() {
	if State(m.state.Load()) == StateSnapshotRequest {
		m.state.Store(int32(StateSnapshotReplay))
		m.log.Info("state transition", logger.Field{Key: "state", Value: StateSnapshotReplay.String()})
	}
}

// TransitionToIncremental moves SnapshotReplay -> Incremental.
func (m *Manager) TransitionToIncremental() {
	if State(m.state.Load()) == StateSnapshotReplay {
		m.state.Store(int32(StateIncremental))
		m.log.Info("state transition", logger.Field{Key: "state", Value: StateIncremental.String()})
	}
}

// UpdateLastMessageTime refreshes the liveness clock. Called by the reader
// on every received byte of a valid frame.
func (m *Manager) UpdateLastMessageTime() {
	m.lastMessageNs.Store(time.Now().UnixNano())
}

// IsHeartbeatTimeout reports whether the feed has been silent for at least
// the heartbeat timeout.
func (m *Manager) IsHeartbeatTimeout() bool {
	elapsed := time.Duration(time.Now().UnixNano() - m.lastMessageNs.Load())
	return elapsed >= m.heartbeatTimeout
}

// SecondsSinceLastMessage returns the feed silence duration in seconds.
func (m *Manager) SecondsSinceLastMessage() float64 {
	return float64(time.Now().UnixNano()-m.lastMessageNs.Load()) / 1e9
}

// NeedsSnapshotRequest reports whether a snapshot request still has to be
// sent in the current state.
func (m *Manager) NeedsSnapshotRequest() bool {
	return State(m.state.Load()) == StateSnapshotRequest && !m.snapshotRequested
}

// State returns a point-in-time view of the lifecycle state; safe from any
// goroutine.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether the socket is up in any post-dial state.
func (m *Manager) IsConnected() bool {
	switch State(m.state.Load()) {
	case StateConnected, StateSnapshotRequest, StateSnapshotReplay, StateIncremental:
		return true
	}
	return false
}

// IsIncremental reports whether live incremental updates are flowing.
func (m *Manager) IsIncremental() bool {
	return State(m.state.Load()) == StateIncremental
}

// ReconnectAttempts returns the number of reconnect cycles started since the
// last successful connect.
func (m *Manager) ReconnectAttempts() int {
	return m.reconnectAttempts
}

// CurrentBackoff returns the delay the next reconnect cycle will sleep.
func (m *Manager) CurrentBackoff() time.Duration {
	return m.currentBackoff
}

// HeartbeatTimeout returns the configured liveness threshold.
func (m *Manager) HeartbeatTimeout() time.Duration {
	return m.heartbeatTimeout
}
