// Package bridge owns the polling state machine for one printer: it calls the
// printer adapter once per cycle, keeps the last good snapshot, and debounces
// failures so that short Wi-Fi drops on the device are served as stale data
// instead of flapping availability.
package bridge

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/uartwifi"
)

// DefaultFailureThreshold is how many consecutive failed polls are absorbed
// before the bridge gives up. Tens of drops per hour are normal for these
// printers.
const DefaultFailureThreshold = 5

// ErrHardOffline is the only error Poll surfaces for device problems. Once
// returned, the bridge stays offline; recovery means building a new bridge.
var ErrHardOffline = errors.New("printer unavailable: consecutive poll failures exceeded threshold")

// Phase is the bridge's availability state.
type Phase string

const (
	// PhaseStarting precedes the first poll.
	PhaseStarting Phase = "starting"
	// PhaseOnline means the last poll produced a valid status.
	PhaseOnline Phase = "online"
	// PhaseSuspect means recent polls failed; the last good data is served.
	PhaseSuspect Phase = "suspect"
	// PhaseOffline is terminal.
	PhaseOffline Phase = "offline"
)

// OfflineStatus returns the record served until a real status arrives.
func OfflineStatus() uartwifi.Status {
	return uartwifi.Status{Status: uartwifi.Some(string(PhaseOffline))}
}

// Printer is the adapter surface the bridge polls.
type Printer interface {
	QueryStatus(ctx context.Context, opts printer.StatusOptions) (*uartwifi.Status, printer.Extras, error)
	QuerySysInfo(ctx context.Context) (*uartwifi.SysInfo, error)
}

// Options configures a Bridge.
type Options struct {
	Policy           printer.UnitPolicy
	NoExtras         bool
	FailureThreshold int
}

// StateData holds bridge state values without synchronization.
// Safe to copy by value once Extras is cloned.
type StateData struct {
	Status    uartwifi.Status
	Extras    printer.Extras
	SysInfo   *uartwifi.SysInfo
	Failures  int
	Phase     Phase
	LastError string
	UpdatedAt time.Time
}

func (d StateData) clone() StateData {
	d.Extras = maps.Clone(d.Extras)
	if d.SysInfo != nil {
		info := *d.SysInfo
		d.SysInfo = &info
	}
	return d
}

// StatusCallback is called after a poll that changed the published state.
type StatusCallback func(data StateData)

// Bridge polls one printer. Poll must not be called concurrently; the
// accessors may be called from any goroutine.
type Bridge struct {
	printer Printer
	opts    Options

	mu   sync.RWMutex
	data StateData

	obsMu     sync.Mutex
	observers []observer
	nextObs   int
}

type observer struct {
	id int
	cb StatusCallback
}

// New creates a bridge serving the offline record until the first good poll.
func New(p Printer, opts Options) *Bridge {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	return &Bridge{
		printer: p,
		opts:    opts,
		data: StateData{
			Status: OfflineStatus(),
			Extras: printer.Extras{},
			Phase:  PhaseStarting,
		},
	}
}

// Subscribe registers cb for state changes. The returned func removes it and
// may be called more than once.
func (b *Bridge) Subscribe(cb StatusCallback) (unsubscribe func()) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.nextObs++
	id := b.nextObs
	b.observers = append(b.observers, observer{id: id, cb: cb})

	return func() {
		b.obsMu.Lock()
		defer b.obsMu.Unlock()
		b.observers = slices.DeleteFunc(b.observers, func(o observer) bool { return o.id == id })
	}
}

// Poll runs one cycle: identify the printer if not yet done, then fetch its
// status. Device failures are absorbed until the threshold is exceeded, at
// which point ErrHardOffline is returned, now and on every later call.
// A cancelled ctx returns its error without counting as a failure.
func (b *Bridge) Poll(ctx context.Context) error {
	b.mu.RLock()
	phase := b.data.Phase
	info := b.data.SysInfo
	b.mu.RUnlock()

	if phase == PhaseOffline {
		return ErrHardOffline
	}

	if info == nil {
		got, err := b.printer.QuerySysInfo(ctx)
		if err != nil {
			return b.fail(ctx, err)
		}
		info = got
		b.mu.Lock()
		b.data.SysInfo = got
		b.mu.Unlock()
		log.Info().
			Str("model", got.Model).
			Str("firmware", got.Firmware).
			Str("serial", got.Serial).
			Str("unit_policy", b.policyName()).
			Msg("printer identified")
	}

	st, extras, err := b.printer.QueryStatus(ctx, printer.StatusOptions{
		Policy:   b.opts.Policy,
		SysInfo:  info,
		NoExtras: b.opts.NoExtras,
	})
	if err != nil {
		return b.fail(ctx, err)
	}
	b.succeed(st, extras)
	return nil
}

func (b *Bridge) succeed(st *uartwifi.Status, extras printer.Extras) {
	if extras == nil || b.opts.NoExtras {
		extras = printer.Extras{}
	}

	b.mu.Lock()
	prev := b.data
	b.data.Status = *st
	b.data.Extras = extras
	b.data.Failures = 0
	b.data.Phase = PhaseOnline
	b.data.LastError = ""
	b.data.UpdatedAt = time.Now()
	changed := prev.Phase != PhaseOnline || prev.Status != *st || !maps.Equal(prev.Extras, extras)
	snap := b.data.clone()
	b.mu.Unlock()

	if prev.Phase == PhaseSuspect {
		log.Info().Int("failures", prev.Failures).Msg("printer reachable again")
	}
	if changed {
		b.notify(snap)
	}
}

func (b *Bridge) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	b.mu.Lock()
	prevPhase := b.data.Phase
	b.data.Failures++
	n := b.data.Failures
	b.data.LastError = err.Error()
	if n > b.opts.FailureThreshold {
		b.data.Phase = PhaseOffline
	} else {
		b.data.Phase = PhaseSuspect
	}
	phase := b.data.Phase
	snap := b.data.clone()
	b.mu.Unlock()

	if phase == PhaseOffline {
		log.Error().Err(err).Int("failures", n).Msg("printer offline, polling stopped")
	} else {
		log.Debug().Err(err).Int("failures", n).Int("threshold", b.opts.FailureThreshold).
			Msg("poll failed, serving last known data")
	}
	if phase != prevPhase {
		b.notify(snap)
	}
	if phase == PhaseOffline {
		return errors.Wrapf(ErrHardOffline, "after %d failures, last: %v", n, err)
	}
	return nil
}

func (b *Bridge) notify(data StateData) {
	b.obsMu.Lock()
	observers := slices.Clone(b.observers)
	b.obsMu.Unlock()

	for _, o := range observers {
		o.cb(data.clone())
	}
}

func (b *Bridge) policyName() string {
	if b.opts.Policy == nil {
		return "none"
	}
	return b.opts.Policy.Name()
}

// State returns a copy of the current state.
func (b *Bridge) State() StateData {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.clone()
}

// Snapshot returns the last published extras.
func (b *Bridge) Snapshot() printer.Extras {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.data.Extras)
}

// LastStatus returns the last good status record, or the offline record.
func (b *Bridge) LastStatus() uartwifi.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Status
}

// Online reports whether the most recent poll succeeded.
func (b *Bridge) Online() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Phase == PhaseOnline && b.data.Failures == 0
}

// Phase returns the availability state.
func (b *Bridge) Phase() Phase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Phase
}

// Failures returns the consecutive failure count.
func (b *Bridge) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Failures
}

// SysInfo returns the cached identity, if the printer has answered yet.
func (b *Bridge) SysInfo() (uartwifi.SysInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data.SysInfo == nil {
		return uartwifi.SysInfo{}, false
	}
	return *b.data.SysInfo, true
}
