package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MinHeartbeatInterval is the shortest interval the monitor runs at.
// Negotiated intervals below it disable heartbeats.
const MinHeartbeatInterval = time.Second

// Monitor sends a heartbeat every interval and reports a timeout when no
// inbound traffic arrives for more than two intervals.
//
// The timeout callback fires at most once, from the monitor goroutine. After
// it fires, or after Stop, the monitor never sends again.
type Monitor struct {
	interval  time.Duration
	clock     clock.Clock
	send      func()
	onTimeout func()

	mu       sync.Mutex
	lastSeen time.Time
	started  bool
	stopped  bool
	stop     chan struct{}
	exited   chan struct{}
}

// NewMonitor creates a stopped monitor. A nil clock uses the wall clock.
func NewMonitor(interval time.Duration, clk clock.Clock, send func(), onTimeout func()) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		interval:  interval,
		clock:     clk,
		send:      send,
		onTimeout: onTimeout,
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// Interval returns the heartbeat interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Enabled reports whether the interval is long enough to run.
func (m *Monitor) Enabled() bool {
	return m.interval >= MinHeartbeatInterval
}

// Start begins ticking. It is a no-op when disabled, already started, or
// stopped.
func (m *Monitor) Start() {
	m.mu.Lock()
	if !m.Enabled() || m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.lastSeen = m.clock.Now()
	ticker := m.clock.Ticker(m.interval)
	m.mu.Unlock()

	go m.run(ticker)
}

// Reset records inbound traffic.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

// Stop halts the monitor and waits for its goroutine to exit. Safe to call
// more than once and from the timeout callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	running := m.started
	close(m.stop)
	m.mu.Unlock()

	if running {
		<-m.exited
	}
}

func (m *Monitor) run(ticker *clock.Ticker) {
	defer close(m.exited)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.tick() {
				return
			}
		}
	}
}

// tick runs one heartbeat period and reports whether to keep going.
func (m *Monitor) tick() bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if m.clock.Now().Sub(m.lastSeen) > 2*m.interval {
		m.stopped = true
		m.mu.Unlock()
		if m.onTimeout != nil {
			m.onTimeout()
		}
		return false
	}
	m.mu.Unlock()

	if m.send != nil {
		m.send()
	}
	return true
}
