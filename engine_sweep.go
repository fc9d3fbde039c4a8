package credguard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SweepConfirmationTokens removes expired and spent confirmation records
// of every purpose and returns how many were removed. Consume never depends
// on sweeping; this only reclaims storage.
func (e *Engine) SweepConfirmationTokens(ctx context.Context) (int, error) {
	if e == nil || e.confirmations == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.confirmations.Sweep(ctx, e.now())
	if err != nil {
		e.emitAudit(ctx, auditEventConfirmationSweep, false, "", ErrConfirmationUnavailable, nil)
		return n, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
	}
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricConfirmationSwept, uint64(n))
	}
	e.emitAudit(ctx, auditEventConfirmationSweep, true, "", nil, func() map[string]string {
		return map[string]string{"removed": strconv.Itoa(n)}
	})
	return n, nil
}

// Sweeper runs SweepConfirmationTokens on a cron schedule.
type Sweeper struct {
	engine  *Engine
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
}

// NewSweeper parses schedule as a standard five-field cron expression. An
// empty schedule uses the engine's SweepConfig.Schedule.
func NewSweeper(engine *Engine, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if engine == nil {
		return nil, ErrEngineNotReady
	}
	if schedule == "" {
		schedule = engine.config.Sweep.Schedule
	}

	s := &Sweeper{
		engine:  engine,
		logger:  logger.With().Str("component", "confirmation_sweeper").Logger(),
		timeout: time.Minute,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.engine.SweepConfirmationTokens(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("confirmation sweep failed")
		return
	}
	s.logger.Debug().Int("removed", n).Msg("confirmation sweep finished")
}

// Start begins the schedule in the background. Calling Start twice is a
// no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Msg("confirmation sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info().Msg("confirmation sweeper stopped")
}
