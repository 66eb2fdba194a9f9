// Package connectivity tracks the engine's view of the remote backend:
// online/offline transitions, a periodic liveness poll, and reconnect
// attempts while disconnected.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/metrics"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// State is the monitor's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StatusFunc queries the backend's connectivity snapshot.
type StatusFunc func(ctx context.Context) (remote.Status, error)

// Config holds monitor timers.
type Config struct {
	PollInterval      time.Duration // liveness re-verification; default 30s
	ReconnectInterval time.Duration // reconnect checks while disconnected; default 5s
	AutoReconnect     bool
}

// Monitor is the connectivity state machine. There is no terminal state;
// only Close stops its timers.
type Monitor struct {
	status      StatusFunc
	onConnected func(ctx context.Context)
	cfg         Config

	mu        sync.Mutex
	state     State
	syncing   bool
	peerCount int
	lastSync  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Snapshot is a point-in-time copy of the monitor's state.
type Snapshot struct {
	State     State
	Syncing   bool
	PeerCount int
	LastSync  time.Time
}

// NewMonitor creates a monitor. onConnected fires on each transition into
// Connected (the queue drain trigger); it may be nil.
func NewMonitor(status StatusFunc, onConnected func(ctx context.Context), cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &Monitor{
		status:      status,
		onConnected: onConnected,
		cfg:         cfg,
		state:       Disconnected,
	}
}

// Start launches the poll and reconnect loops. They stop when Close is
// called or the parent context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops all timers. It does not change the connection state.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	reconnect := time.NewTicker(m.cfg.ReconnectInterval)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			m.check(ctx)
		case <-reconnect.C:
			if !m.cfg.AutoReconnect || m.State() == Connected {
				continue
			}
			m.setState(ctx, Connecting)
			m.check(ctx)
		}
	}
}

// check re-verifies status against the backend and corrects drift.
func (m *Monitor) check(ctx context.Context) {
	st, err := m.status(ctx)
	if err != nil {
		m.setState(ctx, Disconnected)
		return
	}
	m.ApplyStatus(ctx, st)
}

// SetOnline applies a platform online/offline signal immediately.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	if online {
		m.setState(ctx, Connected)
	} else {
		m.setState(ctx, Disconnected)
	}
}

// ApplyStatus folds a backend status snapshot into the monitor.
func (m *Monitor) ApplyStatus(ctx context.Context, st remote.Status) {
	m.mu.Lock()
	m.peerCount = st.PeerCount
	if st.LastSync != nil {
		m.lastSync = *st.LastSync
	}
	m.mu.Unlock()
	metrics.SetPeerCount(st.PeerCount)

	m.SetOnline(ctx, st.Connected)
}

func (m *Monitor) setState(ctx context.Context, next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	metrics.SetConnectivityState(int(next))
	logging.Info("connectivity changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))

	if next == Connected && m.onConnected != nil {
		m.onConnected(ctx)
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the monitor considers the backend reachable.
func (m *Monitor) Online() bool {
	return m.State() == Connected
}

// SetSyncing flips the overlay flag tracked while a drain is in progress.
func (m *Monitor) SetSyncing(syncing bool) {
	m.mu.Lock()
	m.syncing = syncing
	m.mu.Unlock()
}

// PeerConnected increments the peer count.
func (m *Monitor) PeerConnected() {
	m.mu.Lock()
	m.peerCount++
	n := m.peerCount
	m.mu.Unlock()
	metrics.SetPeerCount(n)
}

// PeerDisconnected decrements the peer count, never below zero.
func (m *Monitor) PeerDisconnected() {
	m.mu.Lock()
	if m.peerCount > 0 {
		m.peerCount--
	}
	n := m.peerCount
	m.mu.Unlock()
	metrics.SetPeerCount(n)
}

// MarkSynced records the time of the last successful sync.
func (m *Monitor) MarkSynced(t time.Time) {
	m.mu.Lock()
	m.lastSync = t
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:     m.state,
		Syncing:   m.syncing,
		PeerCount: m.peerCount,
		LastSync:  m.lastSync,
	}
}
