package bridge

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultInterval matches the printer integration's historical poll period.
const DefaultInterval = 60 * time.Second

// Poller drives a Bridge on a fixed interval. Polls never overlap.
type Poller struct {
	bridge   *Bridge
	interval time.Duration
}

// NewPoller creates a poller; a non-positive interval uses DefaultInterval.
func NewPoller(b *Bridge, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{bridge: b, interval: interval}
}

// Run polls immediately and then on every tick until ctx is cancelled, which
// returns nil, or the bridge goes offline, which returns ErrHardOffline.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("start printer poller")

	if err := p.poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	err := p.bridge.Poll(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, ErrHardOffline) {
		return err
	}
	log.Warn().Err(err).Msg("printer poll returned unexpected error")
	return nil
}
