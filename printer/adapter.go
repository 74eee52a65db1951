// Package printer turns uart-wifi replies into typed, display-ready printer
// state: it classifies interleaved replies, normalizes status fields, and
// wraps the transport behind the two read-only request verbs.
package printer

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/john/monox_bridge/uartwifi"
)

// Transport sends one request verb and returns every response decoded for it.
type Transport interface {
	Request(ctx context.Context, verb string) (uartwifi.Reply, error)
	Close() error
}

// Adapter exposes the status and sysinfo queries over a Transport. The
// connection is released after every request: the printer accepts few
// listeners and broadcasts to all of them, so an idle open connection slows
// everyone down.
type Adapter struct {
	transport Transport
}

// NewAdapter wraps t.
func NewAdapter(t Transport) *Adapter {
	return &Adapter{transport: t}
}

// StatusOptions controls how QueryStatus post-processes a status record.
type StatusOptions struct {
	// Policy decides the remaining-time conversion. Nil means no conversion.
	Policy UnitPolicy
	// SysInfo is the cached identity passed to Policy.
	SysInfo *uartwifi.SysInfo
	// NoExtras skips extras parsing entirely.
	NoExtras bool
}

// QueryStatus fetches the current status and, unless opts.NoExtras is set,
// its parsed extras. With NoExtras the returned Extras is empty.
func (a *Adapter) QueryStatus(ctx context.Context, opts StatusOptions) (*uartwifi.Status, Extras, error) {
	st, err := a.queryStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	if opts.NoExtras {
		return st, Extras{}, nil
	}
	convert := opts.Policy != nil && opts.Policy.ConvertToSeconds(opts.SysInfo, st)
	return st, ParseExtras(st, convert), nil
}

func (a *Adapter) queryStatus(ctx context.Context) (*uartwifi.Status, error) {
	defer a.release(uartwifi.VerbStatus)

	log.Debug().Msg("collecting status")
	reply, err := a.send(ctx, uartwifi.VerbStatus)
	if err != nil {
		return nil, err
	}
	st, ok := Select[*uartwifi.Status](reply)
	if !ok || !st.Status.Valid {
		return nil, ErrNoUsableData
	}
	return st, nil
}

// QuerySysInfo fetches the printer's model, firmware and serial.
func (a *Adapter) QuerySysInfo(ctx context.Context) (*uartwifi.SysInfo, error) {
	defer a.release(uartwifi.VerbSysInfo)

	log.Debug().Msg("collecting sysinfo")
	reply, err := a.send(ctx, uartwifi.VerbSysInfo)
	if err != nil {
		return nil, err
	}
	info, ok := Select[*uartwifi.SysInfo](reply)
	if !ok {
		return nil, ErrNoUsableData
	}
	return info, nil
}

func (a *Adapter) send(ctx context.Context, verb string) (uartwifi.Reply, error) {
	reply, err := a.transport.Request(ctx, verb)
	if err != nil {
		return nil, &TransportFault{Verb: verb, Err: err}
	}
	return reply, nil
}

func (a *Adapter) release(verb string) {
	if err := a.transport.Close(); err != nil {
		log.Debug().Err(err).Str("verb", verb).Msg("release printer connection")
	}
}
