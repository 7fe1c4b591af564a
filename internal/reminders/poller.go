package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Refresher is anything with an authoritative reload.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Poller refreshes the reminder cache on a cron schedule. Each tick runs
// exactly one Refresh.
type Poller struct {
	cron    *cron.Cron
	target  Refresher
	when    func() bool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPoller schedules target on spec, e.g. "@every 1m". when gates each
// tick; nil means always refresh.
func NewPoller(spec string, target Refresher, when func() bool, timeout time.Duration, logger zerolog.Logger) (*Poller, error) {
	p := &Poller{
		cron:    cron.New(),
		target:  target,
		when:    when,
		timeout: timeout,
		logger:  logger.With().Str("component", "reminders-poller").Logger(),
	}
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return p, nil
}

// Start starts the scheduler
func (p *Poller) Start() {
	p.cron.Start()
}

// Stop stops the scheduler and waits for a running tick
func (p *Poller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Poller) tick() {
	if p.when != nil && !p.when() {
		return
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.target.Refresh(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("Scheduled refresh failed")
	}
}
