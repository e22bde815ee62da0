// This file contains the Manager, the state machine that owns
// connection intent, reconciles it against polled control-plane
// reports, and keeps user actions from racing background polls.

package vpn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn3-manager/common"
)

// ConnectionState represents the state of the managed session.
type ConnectionState int

const (
	// StateDisconnected indicates no active session.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a session start is in flight. While set,
	// poll results cannot downgrade the state.
	StateConnecting
	// StateConnected indicates an established session confirmed by a
	// successful stats fetch.
	StateConnected
	// StateDisconnecting indicates a disconnect is in flight. While set,
	// poll results are ignored.
	StateDisconnecting
)

// String returns a human-readable representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// Callbacks deliver manager events. All callbacks fire on the manager's
// event loop goroutine; handlers must hand off work instead of blocking.
type Callbacks struct {
	// OnStateChange fires on every session state transition.
	OnStateChange func(state ConnectionState)
	// OnConfigs fires when the configuration mapping is replaced.
	OnConfigs func(entries []ConfigEntry)
	// OnStats fires after each successful stats fetch.
	OnStats func(stats SessionStats, rateIn, rateOut uint64)
	// OnAuthRequired fires when a session start was rejected for bad
	// credentials; the caller should re-prompt and retry.
	OnAuthRequired func(displayName string)
	// OnError fires for every reported failure.
	OnError func(err error)
}

// EventRecorder receives connection lifecycle events for persistence.
type EventRecorder interface {
	Record(event, name string, bytesIn, bytesOut uint64)
}

// Timeouts groups the per-class command deadlines.
type Timeouts struct {
	Poll  time.Duration
	Start time.Duration
	Stop  time.Duration
}

// DefaultTimeouts returns the standard command deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Poll:  common.PollCommandTimeout,
		Start: common.StartCommandTimeout,
		Stop:  common.StopCommandTimeout,
	}
}

// Status is a point-in-time snapshot of the manager for rendering.
type Status struct {
	State      ConnectionState
	Session    string
	ActiveName string
	Configs    []ConfigEntry
	Stats      SessionStats
	RatesIn    []uint64
	RatesOut   []uint64
	RateScale  float64
}

// Manager owns all mutable session state: the configuration mapping,
// the tracked session reference, the connection state, and the traffic
// rate history. Mutations happen only on its event loop goroutine;
// gateway completions are posted back onto that loop, so guard states
// are what protect against a slow earlier poll overwriting a faster
// later action.
type Manager struct {
	exec     Executor
	timeouts Timeouts

	events chan func()
	stop   chan struct{}
	once   sync.Once

	mu         sync.RWMutex
	state      ConnectionState
	prevState  ConnectionState
	entries    []ConfigEntry
	configs    map[string]string
	session    string
	activeName string
	lastStats  SessionStats
	rates      *RateTracker
	cb         Callbacks
	recorder   EventRecorder
}

// NewManager creates a session manager over the given executor.
func NewManager(exec Executor, timeouts Timeouts) *Manager {
	return &Manager{
		exec:     exec,
		timeouts: timeouts,
		events:   make(chan func(), 64),
		stop:     make(chan struct{}),
		configs:  make(map[string]string),
		rates:    NewRateTracker(common.RateHistoryDepth),
	}
}

// SetCallbacks installs the event callbacks.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
}

// SetRecorder installs an optional lifecycle event recorder.
func (m *Manager) SetRecorder(r EventRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// Run starts the event loop goroutine.
func (m *Manager) Run() {
	go m.loop()
}

// Close stops the event loop. Pending completions are dropped.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.stop:
			return
		}
	}
}

// post enqueues fn onto the serialized event queue. Events are applied
// in enqueue order, not in the order their external calls were issued.
func (m *Manager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.stop:
	}
}

// StartPolling drives Poll at the given interval until ctx is done.
// The scheduler is deliberately separate from the transition logic.
func (m *Manager) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = common.DefaultPollInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()
}

// Snapshot returns a copy of the current manager state.
func (m *Manager) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]ConfigEntry, len(m.entries))
	copy(entries, m.entries)
	in, out := m.rates.History()

	return Status{
		State:      m.state,
		Session:    m.session,
		ActiveName: m.activeName,
		Configs:    entries,
		Stats:      m.lastStats,
		RatesIn:    in,
		RatesOut:   out,
		RateScale:  m.rates.Scale(),
	}
}

// RefreshConfigs asynchronously replaces the configuration mapping from
// a fresh configs-list run. A failed listing yields an empty mapping so
// callers never act on stale entries.
func (m *Manager) RefreshConfigs() {
	m.post(func() {
		req := Request{Args: []string{"configs-list"}, Timeout: m.timeouts.Poll}
		m.exec.Execute(req, func(res Result) {
			m.post(func() { m.applyConfigList(res) })
		})
	})
}

// RefreshConfigsSync replaces the configuration mapping and blocks until
// the new entries are available. Used by the one-shot CLI commands.
func (m *Manager) RefreshConfigsSync() ([]ConfigEntry, error) {
	res := m.execSync(Request{Args: []string{"configs-list"}, Timeout: m.timeouts.Poll})

	done := make(chan struct{})
	m.post(func() {
		m.applyConfigList(res)
		close(done)
	})
	<-done

	if err := res.Err(); err != nil {
		return nil, common.WrapError(err, "config listing failed")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]ConfigEntry, len(m.entries))
	copy(entries, m.entries)
	return entries, nil
}

func (m *Manager) applyConfigList(res Result) {
	var entries []ConfigEntry
	if res.OK() {
		entries = ParseConfigList(res.Stdout)
	} else {
		common.LogWarn("config listing failed: %v", res.Err())
	}

	m.mu.Lock()
	m.entries = entries
	m.configs = ConfigMap(entries)
	cb := m.cb.OnConfigs
	m.mu.Unlock()

	common.LogDebug("configuration mapping replaced: %d entries", len(entries))
	if cb != nil {
		cb(entries)
	}
}

// StartSession begins a session for the named configuration using the
// given credentials. The credentials are supplied over the process's
// input stream, never on the argument list. An authentication rejection
// is signaled through OnAuthRequired so the caller can retry with new
// credentials.
func (m *Manager) StartSession(displayName string, cred common.Credential) {
	m.post(func() {
		m.mu.RLock()
		path, known := m.configs[displayName]
		state := m.state
		m.mu.RUnlock()

		if !known {
			m.fail(fmt.Errorf("%w: unknown configuration %q", common.ErrValidation, displayName))
			return
		}
		if state == StateConnecting || state == StateDisconnecting {
			m.fail(fmt.Errorf("%w: an operation is already in progress", common.ErrValidation))
			return
		}

		m.mu.Lock()
		m.activeName = displayName
		m.mu.Unlock()
		m.setState(StateConnecting)

		req := Request{
			Args:    []string{"session-start", "--config", path},
			Stdin:   cred.Username + "\n" + cred.Secret + "\n",
			Timeout: m.timeouts.Start,
		}
		m.exec.Execute(req, func(res Result) {
			m.post(func() { m.finishStart(displayName, res) })
		})
	})
}

func (m *Manager) finishStart(displayName string, res Result) {
	if res.OK() {
		ref := ExtractSessionPath(res.Stdout)
		if ref == "" {
			common.LogWarn("session started but no session path found in output")
		}
		m.mu.Lock()
		m.session = ref
		m.rates.Reset()
		m.mu.Unlock()
		m.setState(StateConnected)
		return
	}

	if isAuthRejected(res) {
		common.LogInfo("session start rejected for %s: authentication failure", displayName)
		m.setState(StateDisconnected)
		m.mu.RLock()
		cb := m.cb.OnAuthRequired
		m.mu.RUnlock()
		if cb != nil {
			cb(displayName)
		}
		return
	}

	m.setState(StateDisconnected)
	m.mu.RLock()
	rec := m.recorder
	m.mu.RUnlock()
	if rec != nil {
		rec.Record("failed", displayName, 0, 0)
	}
	m.fail(common.WrapError(res.Err(), "session start failed"))
}

// authFailureMarkers are substrings in session-start failure output that
// identify a credential rejection rather than a transport problem.
var authFailureMarkers = []string{
	"auth_failed",
	"authentication failed",
	"authentication error",
	"failed to authenticate",
}

func isAuthRejected(res Result) bool {
	text := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	for _, marker := range authFailureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Poll asynchronously reconciles the session state against the control
// plane. While a start or stop is in flight the guard state takes
// precedence: a stale empty listing cannot downgrade to Disconnected.
func (m *Manager) Poll() {
	m.post(m.requestSessionList)
}

func (m *Manager) requestSessionList() {
	req := Request{Args: []string{"sessions-list"}, Timeout: m.timeouts.Poll}
	m.exec.Execute(req, func(res Result) {
		m.post(func() { m.applySessionList(res) })
	})
}

func (m *Manager) applySessionList(res Result) {
	m.mu.RLock()
	state := m.state
	tracked := m.session
	m.mu.RUnlock()

	if state == StateDisconnecting {
		return
	}

	if !res.OK() {
		// Failed listings carry no information; the next poll reconciles.
		common.LogWarn("session listing failed: %v", res.Err())
		return
	}

	sessions := ParseSessionList(res.Stdout)
	if len(sessions) == 0 {
		if state == StateConnecting {
			return
		}
		if state != StateDisconnected {
			m.clearSession()
			m.setState(StateDisconnected)
		}
		return
	}

	// Only the first reported session is tracked; this tool manages one
	// user-facing connection at a time.
	ref := sessions[0]
	if ref != tracked {
		m.mu.Lock()
		m.session = ref
		m.rates.Reset()
		m.mu.Unlock()
	}

	req := Request{
		Args:    []string{"session-stats", "--session-path", ref},
		Timeout: m.timeouts.Poll,
	}
	m.exec.Execute(req, func(res Result) {
		m.post(func() { m.applySessionStats(ref, res) })
	})
}

func (m *Manager) applySessionStats(ref string, res Result) {
	m.mu.RLock()
	state := m.state
	tracked := m.session
	m.mu.RUnlock()

	if state == StateDisconnecting || tracked != ref {
		return
	}

	if !res.OK() {
		// The session vanished between the list and stats calls.
		if state == StateConnecting {
			return
		}
		common.LogDebug("stats fetch failed for %s: %v", ref, res.Err())
		m.clearSession()
		m.setState(StateDisconnected)
		return
	}

	stats := ParseSessionStats(res.Stdout)

	m.mu.Lock()
	rateIn, rateOut := m.rates.Update(stats.BytesIn, stats.BytesOut)
	m.lastStats = stats
	cb := m.cb.OnStats
	m.mu.Unlock()

	// A successful stats fetch is the proof of an established session.
	m.setState(StateConnected)

	if cb != nil {
		cb(stats, rateIn, rateOut)
	}
}

// StopSession disconnects the tracked session. When no session is
// tracked, one is discovered from a fresh listing first. A failed
// disconnect re-polls actual state instead of assuming either outcome.
func (m *Manager) StopSession() {
	m.post(func() {
		m.mu.RLock()
		ref := m.session
		m.mu.RUnlock()

		if ref != "" {
			m.disconnectSession(ref)
			return
		}

		req := Request{Args: []string{"sessions-list"}, Timeout: m.timeouts.Poll}
		m.exec.Execute(req, func(res Result) {
			m.post(func() {
				sessions := ParseSessionList(res.Stdout)
				if len(sessions) == 0 {
					m.fail(common.ErrNotConnected)
					return
				}
				m.disconnectSession(sessions[0])
			})
		})
	})
}

// disconnectSession runs on the event loop.
func (m *Manager) disconnectSession(ref string) {
	m.mu.Lock()
	m.prevState = m.state
	m.mu.Unlock()
	m.setState(StateDisconnecting)

	req := Request{
		Args:    []string{"session-manage", "--session-path", ref, "--disconnect"},
		Timeout: m.timeouts.Stop,
	}
	m.exec.Execute(req, func(res Result) {
		m.post(func() { m.finishStop(ref, res) })
	})
}

func (m *Manager) finishStop(ref string, res Result) {
	if res.OK() {
		m.clearSession()
		m.setState(StateDisconnected)
		return
	}

	m.fail(common.WrapError(res.Err(), "disconnect failed"))

	// Neither outcome can be assumed; restore the pre-stop state and let
	// an immediate poll observe the truth.
	m.mu.Lock()
	prev := m.prevState
	m.mu.Unlock()
	m.setState(prev)
	m.requestSessionList()
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	m.session = ""
	m.activeName = ""
	m.rates.Reset()
	m.mu.Unlock()
}

// CleanupResult is the outcome of disconnecting one session during a
// cleanup run.
type CleanupResult struct {
	Session string
	Err     error
}

// CleanupAll lists every session and disconnects each independently.
// One failure does not abort the rest; partial success is a valid
// terminal outcome.
func (m *Manager) CleanupAll() ([]CleanupResult, error) {
	res := m.execSync(Request{Args: []string{"sessions-list"}, Timeout: m.timeouts.Poll})
	if err := res.Err(); err != nil {
		return nil, common.WrapError(err, "session listing failed")
	}

	sessions := ParseSessionList(res.Stdout)
	results := make([]CleanupResult, 0, len(sessions))
	for _, ref := range sessions {
		req := Request{
			Args:    []string{"session-manage", "--session-path", ref, "--disconnect"},
			Timeout: m.timeouts.Stop,
		}
		r := m.execSync(req)
		results = append(results, CleanupResult{Session: ref, Err: r.Err()})
	}

	// Reconcile whatever actually happened.
	m.Poll()
	return results, nil
}

// ListSessions returns the sessions currently reported by the control
// plane. It is a read-only helper and does not change manager state.
func (m *Manager) ListSessions() ([]string, error) {
	res := m.execSync(Request{Args: []string{"sessions-list"}, Timeout: m.timeouts.Poll})
	if err := res.Err(); err != nil {
		return nil, common.WrapError(err, "session listing failed")
	}
	return ParseSessionList(res.Stdout), nil
}

// SessionStatsFor fetches statistics for one session reference.
func (m *Manager) SessionStatsFor(ref string) (SessionStats, error) {
	req := Request{
		Args:    []string{"session-stats", "--session-path", ref},
		Timeout: m.timeouts.Poll,
	}
	res := m.execSync(req)
	if err := res.Err(); err != nil {
		return SessionStats{}, common.WrapError(err, "stats fetch failed")
	}
	return ParseSessionStats(res.Stdout), nil
}

// ImportConfig imports a configuration file into the control plane and
// refreshes the configuration mapping.
func (m *Manager) ImportConfig(path string) error {
	if !common.FileExists(path) {
		return fmt.Errorf("%w: %s does not exist", common.ErrValidation, path)
	}

	req := Request{Args: []string{"config-import", "--config", path}, Timeout: m.timeouts.Start}
	res := m.execSync(req)
	if err := res.Err(); err != nil {
		return common.WrapError(err, "config import failed")
	}

	m.RefreshConfigs()
	return nil
}

// execSync runs a request through the executor and waits for it.
func (m *Manager) execSync(req Request) Result {
	ch := make(chan Result, 1)
	m.exec.Execute(req, func(r Result) { ch <- r })
	return <-ch
}

// setState transitions the session state, logging the change, recording
// lifecycle events, and notifying the callback. No-op when unchanged.
func (m *Manager) setState(s ConnectionState) {
	m.mu.Lock()
	prev := m.state
	if prev == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	name := m.activeName
	if name == "" {
		name = m.session
	}
	stats := m.lastStats
	cb := m.cb.OnStateChange
	rec := m.recorder
	m.mu.Unlock()

	common.LogInfo("session state: %s -> %s", prev, s)

	if rec != nil {
		switch {
		case s == StateConnected:
			rec.Record("connected", name, 0, 0)
		case s == StateDisconnected && (prev == StateConnected || prev == StateDisconnecting):
			rec.Record("disconnected", name, stats.BytesIn, stats.BytesOut)
		}
	}

	if cb != nil {
		cb(s)
	}
}

// fail reports an error through the callback and the log. Failures are
// always delivered as data; they never escape the loop as a fault.
func (m *Manager) fail(err error) {
	common.LogError("%v", err)
	m.mu.RLock()
	cb := m.cb.OnError
	m.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}
