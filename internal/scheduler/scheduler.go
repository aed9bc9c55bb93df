// Package scheduler fires every periodic job on IST cron schedules: engine
// runs, monitors, outcome evaluation, dashboard aggregation, and nightly
// training. Job failures are logged and never stop the scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/learning"
	"arise-trading-engine/internal/marketclock"
)

const (
	jobTimeout = 12 * time.Minute

	scalpingStaleness = 10 * time.Minute
	defaultStaleness  = 60 * time.Minute
)

// Engine is the top-picks surface the scheduler drives.
type Engine interface {
	Run(ctx context.Context, universeName string, mode domain.Mode, trigger domain.Trigger) (*engine.RunResult, error)
	Hydrate(ctx context.Context, universeName string, mode domain.Mode) (*engine.RunResult, bool)
}

// Cycler is one periodic monitor pass.
type Cycler interface {
	Cycle(ctx context.Context) error
}

// OutcomeRunner evaluates realized outcomes for one trade date.
type OutcomeRunner interface {
	EvaluateDay(ctx context.Context, tradeDate string) (int, error)
}

// Trainer runs the nightly learning pass.
type Trainer interface {
	Train(ctx context.Context) (learning.TrainReport, error)
}

// Scheduler owns the cron table and the startup warm-up.
type Scheduler struct {
	cron      *cron.Cron
	engine    Engine
	universes []string

	scalping  Cycler
	positions Cycler
	portfolio Cycler

	outcomes  OutcomeRunner
	trainer   Trainer
	dashboard *Dashboard

	clock marketclock.Clock
	log   zerolog.Logger
}

func New(
	eng Engine,
	universes []string,
	scalping, positions, portfolio Cycler,
	outcomes OutcomeRunner,
	trainer Trainer,
	dashboard *Dashboard,
	clock marketclock.Clock,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(marketclock.IST)),
		engine:    eng,
		universes: universes,
		scalping:  scalping,
		positions: positions,
		portfolio: portfolio,
		outcomes:  outcomes,
		trainer:   trainer,
		dashboard: dashboard,
		clock:     clock,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the job table, runs warm-up in the background and starts
// the cron loop.
func (s *Scheduler) Start() error {
	if err := s.register(); err != nil {
		return err
	}
	go s.wrap("warmup", s.Warmup)()
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) register() error {
	// Preopen engine runs, one slot per mode starting 08:00 IST.
	for k, mode := range domain.AllModes {
		mode := mode
		spec := fmt.Sprintf("%d 8 * * 1-5", 3*k)
		if err := s.add(spec, "preopen_"+string(mode), func(ctx context.Context) error {
			return s.runPairs(ctx, domain.TriggerPreopen, mode)
		}); err != nil {
			return err
		}
	}

	if err := s.add("*/10 9-15 * * 1-5", "scalping_cycle", func(ctx context.Context) error {
		return s.runPairs(ctx, domain.TriggerScalpingCycle, domain.ModeScalping)
	}); err != nil {
		return err
	}

	// Hourly refreshes for the non-scalping modes, staggered from :33.
	hourly := []domain.Mode{domain.ModeIntraday, domain.ModeSwing, domain.ModeOptions, domain.ModeFutures}
	for k, mode := range hourly {
		mode := mode
		spec := fmt.Sprintf("%d 9-15 * * 1-5", 33+3*k)
		if err := s.add(spec, "hourly_"+string(mode), func(ctx context.Context) error {
			return s.runPairs(ctx, domain.TriggerHourly, mode)
		}); err != nil {
			return err
		}
	}

	if err := s.add("0 16 * * 1-5", "eod_outcomes", s.runOutcomes); err != nil {
		return err
	}

	if s.dashboard != nil {
		if err := s.add("*/15 * * * 1-5", "dashboard_intraday", s.dashboard.RefreshIntraday); err != nil {
			return err
		}
		if err := s.add("0 20 * * 1-5", "performance_snapshot", s.dashboard.RefreshPerformance); err != nil {
			return err
		}
	}

	for name, monitor := range map[string]Cycler{
		"scalping_monitor":  s.scalping,
		"positions_monitor": s.positions,
		"portfolio_monitor": s.portfolio,
	} {
		if monitor == nil {
			continue
		}
		monitor := monitor
		if err := s.add("*/5 * * * *", name, monitor.Cycle); err != nil {
			return err
		}
	}

	if s.trainer != nil {
		if err := s.add("0 21 * * *", "nightly_training", s.runTraining); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, s.wrap(name, fn))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// wrap gives every job a timeout, panic recovery and error logging.
func (s *Scheduler) wrap(name string, fn func(ctx context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Any("panic", r).Msg("job panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
		}
	}
}

// runPairs executes one engine run per configured universe for each mode.
// Skips caused by locks or the hard cutoff are expected, not failures.
func (s *Scheduler) runPairs(ctx context.Context, trigger domain.Trigger, modes ...domain.Mode) error {
	var firstErr error
	for _, uni := range s.universes {
		for _, mode := range modes {
			_, err := s.engine.Run(ctx, uni, mode, trigger)
			switch {
			case err == nil:
			case errors.Is(err, engine.ErrRunInProgress), errors.Is(err, engine.ErrAfterCutoff):
				s.log.Debug().Str("universe", uni).Str("mode", string(mode)).Err(err).Msg("run skipped")
			default:
				s.log.Warn().Err(err).Str("universe", uni).Str("mode", string(mode)).Msg("engine run failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (s *Scheduler) runOutcomes(ctx context.Context) error {
	if s.outcomes == nil {
		return nil
	}
	tradeDate := marketclock.TradeDate(s.clock.Now())
	n, err := s.outcomes.EvaluateDay(ctx, tradeDate)
	if err != nil {
		return err
	}
	s.log.Info().Int("outcomes", n).Str("trade_date", tradeDate).Msg("eod outcomes evaluated")
	return nil
}

func (s *Scheduler) runTraining(ctx context.Context) error {
	report, err := s.trainer.Train(ctx)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("policy_id", report.PolicyID).
		Int("outcomes", report.OutcomesTrained).
		Msg("nightly training complete")
	return nil
}

// Warmup applies the startup freshness rules per pair: hydrate from the
// last snapshot, recompute when stale and the market is open. When closed,
// scalping only hydrates; other modes backfill once if the snapshot is
// missing or from a previous session.
func (s *Scheduler) Warmup(ctx context.Context) error {
	now := s.clock.Now()
	open := marketclock.IsMarketOpen(now)
	today := marketclock.TradeDate(now)

	for _, uni := range s.universes {
		for _, mode := range domain.AllModes {
			snapshot, ok := s.engine.Hydrate(ctx, uni, mode)

			if open {
				staleness := defaultStaleness
				if mode == domain.ModeScalping {
					staleness = scalpingStaleness
				}
				if ok && now.Sub(snapshot.GeneratedAt) <= staleness {
					continue
				}
				s.warmRun(ctx, uni, mode, domain.TriggerWarmup)
				continue
			}

			if mode == domain.ModeScalping {
				continue
			}
			if ok && marketclock.TradeDate(snapshot.GeneratedAt) == today {
				continue
			}
			s.warmRun(ctx, uni, mode, domain.TriggerBackfill)
		}
	}
	return nil
}

func (s *Scheduler) warmRun(ctx context.Context, uni string, mode domain.Mode, trigger domain.Trigger) {
	if _, err := s.engine.Run(ctx, uni, mode, trigger); err != nil &&
		!errors.Is(err, engine.ErrRunInProgress) && !errors.Is(err, engine.ErrAfterCutoff) {
		s.log.Warn().Err(err).Str("universe", uni).Str("mode", string(mode)).Msg("warmup run failed")
	}
}
