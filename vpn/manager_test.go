package vpn

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yllada/ovpn3-manager/common"
)

// fakeExec is a synchronous Executor that replays canned results keyed
// by the command verb and records every request it sees.
type fakeExec struct {
	mu       sync.Mutex
	results  map[string]Result
	requests []Request
}

func newFakeExec() *fakeExec {
	return &fakeExec{results: make(map[string]Result)}
}

func (f *fakeExec) set(verb string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[verb] = res
}

func (f *fakeExec) Execute(req Request, done func(Result)) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	res, ok := f.results[req.Args[0]]
	f.mu.Unlock()
	if !ok {
		res = Result{Outcome: OutcomeCompleted}
	}
	done(res)
}

func (f *fakeExec) calls(verb string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, r := range f.requests {
		if r.Args[0] == verb {
			out = append(out, r)
		}
	}
	return out
}

// stateLog collects state transitions delivered through callbacks.
type stateLog struct {
	mu     sync.Mutex
	states []ConnectionState
	errs   []error
	auth   []string
}

func (l *stateLog) callbacks() Callbacks {
	return Callbacks{
		OnStateChange: func(s ConnectionState) {
			l.mu.Lock()
			l.states = append(l.states, s)
			l.mu.Unlock()
		},
		OnError: func(err error) {
			l.mu.Lock()
			l.errs = append(l.errs, err)
			l.mu.Unlock()
		},
		OnAuthRequired: func(name string) {
			l.mu.Lock()
			l.auth = append(l.auth, name)
			l.mu.Unlock()
		},
	}
}

func (l *stateLog) last() (ConnectionState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return 0, false
	}
	return l.states[len(l.states)-1], true
}

func (l *stateLog) all() []ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConnectionState, len(l.states))
	copy(out, l.states)
	return out
}

func newTestManager(t *testing.T, exec Executor) (*Manager, *stateLog) {
	t.Helper()
	m := NewManager(exec, DefaultTimeouts())
	log := &stateLog{}
	m.SetCallbacks(log.callbacks())
	m.Run()
	t.Cleanup(m.Close)
	return m, log
}

// managerSync flushes the event queue. Completions enqueue follow-up
// events while earlier ones run, so several barrier rounds are needed
// to drain a full poll or stop chain.
func managerSync(m *Manager) {
	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		m.post(func() { close(done) })
		<-done
	}
}

const (
	configListing = "Configuration path   Imported   Used\n" +
		"-------------------------------------\n" +
		"/home/u/office.ovpn  2026-01-01  user\n"
	sessionListing = "Session path: /net/openvpn/v3/sessions/abc\n"
	statsReport    = "BYTES_IN................100\nBYTES_OUT...............50\n"
	startOutput    = "Connected\nSession path: /net/openvpn/v3/sessions/abc\n"
)

func TestStartSessionUnknownConfigNoGatewayCall(t *testing.T) {
	exec := newFakeExec()
	m, log := newTestManager(t, exec)

	m.StartSession("nope.ovpn", common.Credential{Username: "u", Secret: "p"})
	managerSync(m)

	if len(exec.calls("session-start")) != 0 {
		t.Error("unknown configuration reached the gateway")
	}
	if len(log.errs) != 1 || !errors.Is(log.errs[0], common.ErrValidation) {
		t.Errorf("errors = %v, want one ErrValidation", log.errs)
	}
	if s := m.Snapshot(); s.State != StateDisconnected {
		t.Errorf("state = %v, want Disconnected", s.State)
	}
}

func TestStartSessionSuccess(t *testing.T) {
	exec := newFakeExec()
	exec.set("configs-list", Result{Outcome: OutcomeCompleted, Stdout: configListing})
	exec.set("session-start", Result{Outcome: OutcomeCompleted, Stdout: startOutput})
	m, log := newTestManager(t, exec)

	if _, err := m.RefreshConfigsSync(); err != nil {
		t.Fatalf("RefreshConfigsSync: %v", err)
	}

	m.StartSession("office.ovpn", common.Credential{Username: "alice", Secret: "pw"})
	managerSync(m)

	states := log.all()
	want := []ConnectionState{StateConnecting, StateConnected}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}

	s := m.Snapshot()
	if s.Session != "/net/openvpn/v3/sessions/abc" {
		t.Errorf("tracked session = %q", s.Session)
	}
	if s.ActiveName != "office.ovpn" {
		t.Errorf("active name = %q, want office.ovpn", s.ActiveName)
	}

	starts := exec.calls("session-start")
	if len(starts) != 1 {
		t.Fatalf("session-start calls = %d, want 1", len(starts))
	}
	if starts[0].Stdin != "alice\npw\n" {
		t.Error("credentials were not delivered over stdin")
	}
	for _, arg := range starts[0].Args {
		if strings.Contains(arg, "alice") || strings.Contains(arg, "pw") {
			t.Error("credentials leaked onto the argument list")
		}
	}
}

func TestStartSessionAuthRejected(t *testing.T) {
	exec := newFakeExec()
	exec.set("configs-list", Result{Outcome: OutcomeCompleted, Stdout: configListing})
	exec.set("session-start", Result{
		Outcome:  OutcomeCompleted,
		ExitCode: 1,
		Stderr:   "AUTH_FAILED: credentials rejected",
	})
	m, log := newTestManager(t, exec)

	if _, err := m.RefreshConfigsSync(); err != nil {
		t.Fatalf("RefreshConfigsSync: %v", err)
	}
	m.StartSession("office.ovpn", common.Credential{Username: "u", Secret: "bad"})
	managerSync(m)

	if got, _ := log.last(); got != StateDisconnected {
		t.Errorf("final state = %v, want Disconnected", got)
	}
	if len(log.auth) != 1 || log.auth[0] != "office.ovpn" {
		t.Errorf("auth prompts = %v, want [office.ovpn]", log.auth)
	}
	if len(log.errs) != 0 {
		t.Errorf("auth rejection also reported as generic error: %v", log.errs)
	}
}

func TestStartSessionFailure(t *testing.T) {
	exec := newFakeExec()
	exec.set("configs-list", Result{Outcome: OutcomeCompleted, Stdout: configListing})
	exec.set("session-start", Result{
		Outcome:  OutcomeCompleted,
		ExitCode: 1,
		Stderr:   "connection refused",
	})
	m, log := newTestManager(t, exec)

	if _, err := m.RefreshConfigsSync(); err != nil {
		t.Fatalf("RefreshConfigsSync: %v", err)
	}
	m.StartSession("office.ovpn", common.Credential{Username: "u", Secret: "p"})
	managerSync(m)

	if got, _ := log.last(); got != StateDisconnected {
		t.Errorf("final state = %v, want Disconnected", got)
	}
	if len(log.errs) != 1 {
		t.Errorf("errors = %v, want one", log.errs)
	}
	if len(log.auth) != 0 {
		t.Error("non-auth failure fired the auth prompt")
	}
}

func TestPollEmptyListingWhileConnectingKeepsState(t *testing.T) {
	exec := newFakeExec()
	exec.set("configs-list", Result{Outcome: OutcomeCompleted, Stdout: configListing})
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: "No sessions\n"})
	m, _ := newTestManager(t, exec)

	if _, err := m.RefreshConfigsSync(); err != nil {
		t.Fatalf("RefreshConfigsSync: %v", err)
	}

	// Hold the connecting guard manually; the start itself never
	// completes in this scenario.
	started := make(chan struct{})
	m.post(func() {
		m.mu.Lock()
		m.state = StateConnecting
		m.mu.Unlock()
		close(started)
	})
	<-started

	m.Poll()
	managerSync(m)

	if s := m.Snapshot(); s.State != StateConnecting {
		t.Errorf("state after stale empty poll = %v, want Connecting", s.State)
	}
}

func TestPollFailedStatsWhileConnectingKeepsState(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, ExitCode: 1, Stderr: "no such session"})
	m, _ := newTestManager(t, exec)

	started := make(chan struct{})
	m.post(func() {
		m.mu.Lock()
		m.state = StateConnecting
		m.mu.Unlock()
		close(started)
	})
	<-started

	m.Poll()
	managerSync(m)

	if s := m.Snapshot(); s.State != StateConnecting {
		t.Errorf("state after failed stats poll = %v, want Connecting", s.State)
	}
}

func TestPollFindsSessionAndStats(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, Stdout: statsReport})
	m, log := newTestManager(t, exec)

	var gotStats []SessionStats
	cb := log.callbacks()
	cb.OnStats = func(stats SessionStats, rateIn, rateOut uint64) {
		gotStats = append(gotStats, stats)
	}
	m.SetCallbacks(cb)

	m.Poll()
	managerSync(m)

	s := m.Snapshot()
	if s.State != StateConnected {
		t.Errorf("state = %v, want Connected", s.State)
	}
	if s.Session != "/net/openvpn/v3/sessions/abc" {
		t.Errorf("tracked session = %q", s.Session)
	}
	if s.Stats.BytesIn != 100 || s.Stats.BytesOut != 50 {
		t.Errorf("stats = %+v", s.Stats)
	}
	if len(gotStats) != 1 {
		t.Errorf("OnStats fired %d times, want 1", len(gotStats))
	}
}

func TestPollSessionGoneDisconnects(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, Stdout: statsReport})
	m, _ := newTestManager(t, exec)

	m.Poll()
	managerSync(m)
	if s := m.Snapshot(); s.State != StateConnected {
		t.Fatalf("setup state = %v, want Connected", s.State)
	}

	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: "No sessions\n"})
	m.Poll()
	managerSync(m)

	s := m.Snapshot()
	if s.State != StateDisconnected {
		t.Errorf("state = %v, want Disconnected", s.State)
	}
	if s.Session != "" {
		t.Errorf("tracked session = %q, want cleared", s.Session)
	}
}

func TestPollFailedListingChangesNothing(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, Stdout: statsReport})
	m, log := newTestManager(t, exec)

	m.Poll()
	managerSync(m)

	exec.set("sessions-list", Result{Outcome: OutcomeTimedOut})
	m.Poll()
	managerSync(m)

	if s := m.Snapshot(); s.State != StateConnected {
		t.Errorf("state after failed listing = %v, want Connected", s.State)
	}
	if len(log.errs) != 0 {
		t.Errorf("failed poll listing reported errors: %v", log.errs)
	}
}

func TestStopSessionSuccess(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, Stdout: statsReport})
	m, log := newTestManager(t, exec)

	m.Poll()
	managerSync(m)

	m.StopSession()
	managerSync(m)

	states := log.all()
	if len(states) < 3 ||
		states[len(states)-2] != StateDisconnecting ||
		states[len(states)-1] != StateDisconnected {
		t.Errorf("transitions = %v, want ... Disconnecting Disconnected", states)
	}

	stops := exec.calls("session-manage")
	if len(stops) != 1 {
		t.Fatalf("session-manage calls = %d, want 1", len(stops))
	}
	joined := strings.Join(stops[0].Args, " ")
	if !strings.Contains(joined, "--disconnect") ||
		!strings.Contains(joined, "/net/openvpn/v3/sessions/abc") {
		t.Errorf("unexpected disconnect invocation: %v", stops[0].Args)
	}
}

func TestStopSessionNothingTracked(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: "No sessions\n"})
	m, log := newTestManager(t, exec)

	m.StopSession()
	managerSync(m)

	if len(exec.calls("session-manage")) != 0 {
		t.Error("disconnect issued with no session anywhere")
	}
	if len(log.errs) != 1 || !errors.Is(log.errs[0], common.ErrNotConnected) {
		t.Errorf("errors = %v, want one ErrNotConnected", log.errs)
	}
}

func TestStopSessionFailureRestoresState(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{Outcome: OutcomeCompleted, Stdout: sessionListing})
	exec.set("session-stats", Result{Outcome: OutcomeCompleted, Stdout: statsReport})
	m, log := newTestManager(t, exec)

	m.Poll()
	managerSync(m)

	exec.set("session-manage", Result{Outcome: OutcomeTimedOut})
	m.StopSession()
	managerSync(m)

	if len(log.errs) == 0 {
		t.Error("failed disconnect reported no error")
	}
	// The re-poll still sees the session, so the state settles back on
	// Connected rather than sticking in Disconnecting.
	if s := m.Snapshot(); s.State != StateConnected {
		t.Errorf("state after failed stop = %v, want Connected", s.State)
	}
}

func TestCleanupAllIndependentFailures(t *testing.T) {
	exec := newFakeExec()
	exec.set("sessions-list", Result{
		Outcome: OutcomeCompleted,
		Stdout: "Session path: /net/openvpn/v3/sessions/one\n" +
			"Session path: /net/openvpn/v3/sessions/two\n",
	})
	exec.set("session-manage", Result{Outcome: OutcomeTimedOut})
	m, _ := newTestManager(t, exec)

	results, err := m.CleanupAll()
	if err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if !errors.Is(r.Err, common.ErrTimeout) {
			t.Errorf("session %s err = %v, want ErrTimeout", r.Session, r.Err)
		}
	}
	if got := len(exec.calls("session-manage")); got != 2 {
		t.Errorf("disconnect attempts = %d, want 2 despite first failure", got)
	}
}

func TestRefreshConfigsFailureYieldsEmptyMapping(t *testing.T) {
	exec := newFakeExec()
	exec.set("configs-list", Result{Outcome: OutcomeCompleted, Stdout: configListing})
	m, _ := newTestManager(t, exec)

	if _, err := m.RefreshConfigsSync(); err != nil {
		t.Fatalf("RefreshConfigsSync: %v", err)
	}
	if s := m.Snapshot(); len(s.Configs) != 1 {
		t.Fatalf("setup configs = %d, want 1", len(s.Configs))
	}

	exec.set("configs-list", Result{Outcome: OutcomeTimedOut})
	if _, err := m.RefreshConfigsSync(); !errors.Is(err, common.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if s := m.Snapshot(); len(s.Configs) != 0 {
		t.Errorf("configs after failed listing = %d, want 0", len(s.Configs))
	}
}

func TestImportConfigMissingFile(t *testing.T) {
	exec := newFakeExec()
	m, _ := newTestManager(t, exec)

	err := m.ImportConfig("/nonexistent/path.ovpn")
	if !errors.Is(err, common.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if len(exec.calls("config-import")) != 0 {
		t.Error("missing file reached the gateway")
	}
}
