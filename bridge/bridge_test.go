package bridge

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/uartwifi"
)

type stubPrinter struct {
	mu sync.Mutex

	status     *uartwifi.Status
	extras     printer.Extras
	statusErr  error
	info       *uartwifi.SysInfo
	infoErr    error
	statusCall int
	infoCall   int
	lastOpts   printer.StatusOptions
}

func (s *stubPrinter) QueryStatus(ctx context.Context, opts printer.StatusOptions) (*uartwifi.Status, printer.Extras, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCall++
	s.lastOpts = opts
	if s.statusErr != nil {
		return nil, nil, s.statusErr
	}
	st := *s.status
	return &st, s.extras, nil
}

func (s *stubPrinter) QuerySysInfo(ctx context.Context) (*uartwifi.SysInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCall++
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	info := *s.info
	return &info, nil
}

func (s *stubPrinter) set(fn func(s *stubPrinter)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stubPrinter) calls() (status, info int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCall, s.infoCall
}

var errDrop = errors.New("dial tcp 10.0.0.2:6000: i/o timeout")

func newStub() *stubPrinter {
	return &stubPrinter{
		status: &uartwifi.Status{
			Status:          uartwifi.Some("print"),
			File:            uartwifi.Some("a.pwmb/0"),
			PercentComplete: uartwifi.Some("12"),
		},
		extras: printer.Extras{"file": "a.pwmb", "percent_complete": 12},
		info:   &uartwifi.SysInfo{Model: "Photon Mono X", Firmware: "V0.2.2", Serial: "0001"},
	}
}

func TestInitialState(t *testing.T) {
	b := New(newStub(), Options{})

	if b.Phase() != PhaseStarting || b.Online() {
		t.Fatalf("phase=%s online=%v before first poll", b.Phase(), b.Online())
	}
	if v, _ := b.LastStatus().Status.Get(); v != "offline" {
		t.Fatalf("initial status = %q, want offline", v)
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("initial extras should be empty")
	}
	if _, ok := b.SysInfo(); ok {
		t.Fatalf("sysinfo should be unknown before first poll")
	}
}

func TestPollSuccess(t *testing.T) {
	p := newStub()
	b := New(p, Options{Policy: printer.ModelMarkerPolicy{Marker: "6K"}})

	if err := b.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !b.Online() || b.Phase() != PhaseOnline {
		t.Fatalf("want online after good poll, got %s", b.Phase())
	}
	if b.Snapshot()["file"] != "a.pwmb" {
		t.Fatalf("snapshot = %#v", b.Snapshot())
	}
	info, ok := b.SysInfo()
	if !ok || info.Model != "Photon Mono X" {
		t.Fatalf("sysinfo = %+v, %v", info, ok)
	}
	if p.lastOpts.SysInfo == nil || p.lastOpts.SysInfo.Model != "Photon Mono X" {
		t.Fatalf("status query did not receive sysinfo: %+v", p.lastOpts)
	}
	if p.lastOpts.Policy == nil || p.lastOpts.Policy.Name() != printer.PolicyModel {
		t.Fatalf("status query did not receive policy: %+v", p.lastOpts)
	}
}

func TestFailuresServeStaleData(t *testing.T) {
	p := newStub()
	b := New(p, Options{})
	ctx := context.Background()

	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	p.set(func(s *stubPrinter) { s.statusErr = errDrop })

	for i := 1; i <= DefaultFailureThreshold; i++ {
		if err := b.Poll(ctx); err != nil {
			t.Fatalf("failure %d surfaced: %v", i, err)
		}
		if b.Online() {
			t.Fatalf("failure %d: still reported online", i)
		}
		if b.Failures() != i {
			t.Fatalf("failures = %d, want %d", b.Failures(), i)
		}
		if b.Snapshot()["file"] != "a.pwmb" {
			t.Fatalf("failure %d: stale snapshot lost: %#v", i, b.Snapshot())
		}
		if v, _ := b.LastStatus().Status.Get(); v != "print" {
			t.Fatalf("failure %d: stale status lost: %q", i, v)
		}
	}
	if b.Phase() != PhaseSuspect {
		t.Fatalf("phase = %s, want suspect", b.Phase())
	}

	err := b.Poll(ctx)
	if !errors.Is(err, ErrHardOffline) {
		t.Fatalf("failure %d: err = %v, want ErrHardOffline", DefaultFailureThreshold+1, err)
	}
	if b.Phase() != PhaseOffline {
		t.Fatalf("phase = %s, want offline", b.Phase())
	}
	if b.State().LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	p := newStub()
	b := New(p, Options{FailureThreshold: 2})
	ctx := context.Background()

	p.set(func(s *stubPrinter) { s.statusErr = errDrop })
	_ = b.Poll(ctx)
	_ = b.Poll(ctx)
	if b.Failures() != 2 {
		t.Fatalf("failures = %d", b.Failures())
	}

	p.set(func(s *stubPrinter) { s.statusErr = nil })
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if b.Failures() != 0 || !b.Online() {
		t.Fatalf("want reset after success, failures=%d online=%v", b.Failures(), b.Online())
	}

	// The counter starts again from zero.
	p.set(func(s *stubPrinter) { s.statusErr = errDrop })
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("first failure after reset surfaced: %v", err)
	}
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("second failure after reset surfaced: %v", err)
	}
	if err := b.Poll(ctx); !errors.Is(err, ErrHardOffline) {
		t.Fatalf("err = %v, want ErrHardOffline", err)
	}
}

func TestOfflineIsTerminal(t *testing.T) {
	p := newStub()
	b := New(p, Options{FailureThreshold: 1})
	ctx := context.Background()

	p.set(func(s *stubPrinter) { s.infoErr = errDrop })
	_ = b.Poll(ctx)
	if err := b.Poll(ctx); !errors.Is(err, ErrHardOffline) {
		t.Fatalf("err = %v, want ErrHardOffline", err)
	}

	p.set(func(s *stubPrinter) { s.infoErr = nil })
	statusBefore, infoBefore := p.calls()
	for i := 0; i < 3; i++ {
		if err := b.Poll(ctx); err != ErrHardOffline {
			t.Fatalf("err = %v, want bare ErrHardOffline", err)
		}
	}
	statusAfter, infoAfter := p.calls()
	if statusAfter != statusBefore || infoAfter != infoBefore {
		t.Fatalf("offline bridge contacted the printer")
	}
}

func TestSysInfoFetchedOnce(t *testing.T) {
	p := newStub()
	p.infoErr = errDrop
	b := New(p, Options{})
	ctx := context.Background()

	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status, info := p.calls(); status != 0 || info != 1 {
		t.Fatalf("calls = %d status, %d info; status must wait for identity", status, info)
	}
	if b.Failures() != 1 {
		t.Fatalf("sysinfo failure should count, failures = %d", b.Failures())
	}

	p.set(func(s *stubPrinter) { s.infoErr = nil })
	for i := 0; i < 3; i++ {
		if err := b.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if status, info := p.calls(); status != 3 || info != 2 {
		t.Fatalf("calls = %d status, %d info", status, info)
	}
}

func TestObserversOnlyOnChange(t *testing.T) {
	p := newStub()
	b := New(p, Options{})
	ctx := context.Background()

	var got []Phase
	b.Subscribe(func(d StateData) { got = append(got, d.Phase) })

	_ = b.Poll(ctx) // starting -> online
	_ = b.Poll(ctx) // unchanged

	p.set(func(s *stubPrinter) { s.statusErr = errDrop })
	_ = b.Poll(ctx) // online -> suspect
	_ = b.Poll(ctx) // still suspect

	p.set(func(s *stubPrinter) {
		s.statusErr = nil
		s.extras = printer.Extras{"file": "a.pwmb", "percent_complete": 13}
	})
	_ = b.Poll(ctx) // suspect -> online
	_ = b.Poll(ctx) // unchanged

	want := []Phase{PhaseOnline, PhaseSuspect, PhaseOnline}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", got, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	p := newStub()
	b := New(p, Options{})
	ctx := context.Background()

	var dropped, kept int
	unsubscribe := b.Subscribe(func(StateData) { dropped++ })
	b.Subscribe(func(StateData) { kept++ })

	_ = b.Poll(ctx) // starting -> online
	unsubscribe()
	unsubscribe()

	p.set(func(s *stubPrinter) { s.statusErr = errDrop })
	_ = b.Poll(ctx) // online -> suspect

	if dropped != 1 || kept != 2 {
		t.Fatalf("dropped = %d, kept = %d", dropped, kept)
	}
}

func TestObserverGetsCopy(t *testing.T) {
	p := newStub()
	b := New(p, Options{})
	b.Subscribe(func(d StateData) { d.Extras["file"] = "mutated" })

	_ = b.Poll(context.Background())
	if b.Snapshot()["file"] != "a.pwmb" {
		t.Fatalf("observer mutated bridge state")
	}
}

func TestNoExtras(t *testing.T) {
	p := newStub()
	b := New(p, Options{NoExtras: true})

	if err := b.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !p.lastOpts.NoExtras {
		t.Fatalf("NoExtras not passed to adapter")
	}
	if s := b.Snapshot(); s == nil || len(s) != 0 {
		t.Fatalf("snapshot = %#v, want empty", s)
	}
	if v, _ := b.LastStatus().Status.Get(); v != "print" {
		t.Fatalf("status = %q", v)
	}
}

func TestCancelledPollDoesNotCount(t *testing.T) {
	p := newStub()
	p.statusErr = context.Canceled
	b := New(p, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Poll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.Failures() != 0 {
		t.Fatalf("cancelled poll counted as failure")
	}
}

func TestDiagnosticsMarshal(t *testing.T) {
	p := newStub()
	b := New(p, Options{Policy: printer.ProgressVariancePolicy{Tolerance: 0.15}})
	_ = b.Poll(context.Background())
	p.set(func(s *stubPrinter) { s.statusErr = errDrop })
	_ = b.Poll(context.Background())

	d := b.Diagnostics()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("diagnostics not JSON-safe: %v", err)
	}

	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back["phase"] != "suspect" || back["failures"] != float64(1) {
		t.Fatalf("phase/failures = %v/%v", back["phase"], back["failures"])
	}
	status := back["status"].(map[string]any)
	if status["status"] != "print" || status["file"] != "a.pwmb/0" || status["mode"] != nil {
		t.Fatalf("status dump = %#v", status)
	}
	settings := back["settings"].(map[string]any)
	if settings["unit_policy"] != printer.PolicyProgress || settings["failure_threshold"] != float64(5) {
		t.Fatalf("settings = %#v", settings)
	}
	if back["sysinfo"].(map[string]any)["serial"] != "0001" {
		t.Fatalf("sysinfo = %#v", back["sysinfo"])
	}
}

func TestJSONSafe(t *testing.T) {
	in := map[string]any{
		"nested": []any{errDrop, PhaseOnline, time.Unix(0, 0).UTC()},
		"struct": struct{ A int }{1},
		"f32nan": float32(math.NaN()),
		"f32inf": float32(math.Inf(-1)),
		"f64inf": math.Inf(1),
		"f32":    float32(0.5),
	}
	out := jsonSafe(in).(map[string]any)
	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	nested := out["nested"].([]any)
	if nested[0] != errDrop.Error() || nested[1] != "online" || nested[2] != "1970-01-01T00:00:00Z" {
		t.Fatalf("nested = %#v", nested)
	}
	if out["struct"] != "{A:1}" {
		t.Fatalf("struct = %#v", out["struct"])
	}
	if out["f32nan"] != "NaN" || out["f32inf"] != "-Inf" || out["f64inf"] != "+Inf" {
		t.Fatalf("non-finite floats = %#v %#v %#v", out["f32nan"], out["f32inf"], out["f64inf"])
	}
	if out["f32"] != float32(0.5) {
		t.Fatalf("f32 = %#v", out["f32"])
	}
}

func TestPollerStopsOnHardOffline(t *testing.T) {
	p := newStub()
	p.statusErr = errDrop
	b := New(p, Options{FailureThreshold: 1})

	done := make(chan error, 1)
	go func() { done <- NewPoller(b, 5*time.Millisecond).Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrHardOffline) {
			t.Fatalf("Run = %v, want ErrHardOffline", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after going offline")
	}
	if status, _ := p.calls(); status != 2 {
		t.Fatalf("status calls = %d, want 2", status)
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	p := newStub()
	b := New(p, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewPoller(b, time.Hour).Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !b.Online() {
		if time.Now().After(deadline) {
			t.Fatal("first poll did not run immediately")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func TestNewPollerDefaultInterval(t *testing.T) {
	if p := NewPoller(New(newStub(), Options{}), 0); p.interval != DefaultInterval {
		t.Fatalf("interval = %v", p.interval)
	}
}
