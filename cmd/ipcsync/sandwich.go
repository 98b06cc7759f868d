package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/slon/ipcsync/sandwich"
)

// logObserver prints the progress of the exchange as structured events.
type logObserver struct {
	logger *zap.Logger
}

func (o logObserver) Placed(r sandwich.Round) {
	o.logger.Info("agent is placing items on the table",
		zap.Uint64("round", r.Seq),
		zap.Stringer("first", r.Items[0]),
		zap.Stringer("second", r.Items[1]),
	)
}

func (o logObserver) Started(r sandwich.Round) {
	o.logger.Info("consumer is making sandwich",
		zap.Uint64("round", r.Seq),
		zap.Int("consumer", int(r.Holder)),
	)
}

func (o logObserver) Finished(r sandwich.Round) {
	o.logger.Info("consumer finished eating sandwich",
		zap.Uint64("round", r.Seq),
		zap.Int("consumer", int(r.Holder)),
	)
}

func (o logObserver) Acknowledged(r sandwich.Round) {
	o.logger.Debug("agent woken", zap.Uint64("round", r.Seq))
}

func (a *app) newExchange() (*sandwich.Exchange, error) {
	opts, err := a.cfg.Sandwich.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		sandwich.WithClock(a.clock),
		sandwich.WithLogger(a.logger.Named("exchange")),
		sandwich.WithObserver(sandwich.MultiObserver(
			logObserver{logger: a.logger},
			newRoundMetrics(a.metrics, a.clock),
		)),
	)
	return sandwich.New(opts...), nil
}

func (a *app) runSandwich(ctx context.Context) error {
	ex, err := a.newExchange()
	if err != nil {
		return err
	}

	for h, it := range ex.Assignment() {
		a.logger.Info("consumer has item", zap.Int("consumer", h), zap.Stringer("item", it))
	}
	a.logger.Info("starting exchange",
		zap.Stringer("strategy", ex.Strategy()),
		zap.Int("rounds", a.cfg.Sandwich.Rounds),
		zap.Duration("action_duration", a.cfg.Sandwich.ActionDuration),
	)

	if err := ex.Run(ctx, a.cfg.Sandwich.Rounds); err != nil {
		return err
	}
	a.logger.Info("exchange finished", zap.Int("rounds", a.cfg.Sandwich.Rounds))
	return nil
}

func newSandwichCmd(a *app, defaults *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandwich",
		Short: "Run the agent and three consumers until interrupted or the rounds are done",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), a.runSandwich)
		},
	}

	d := defaults.Sandwich
	fs := cmd.Flags()
	fs.String("strategy", d.Strategy, "hand-off strategy: semaphore or monitor")
	fs.Int("rounds", d.Rounds, "rounds to play; 0 runs until interrupted")
	fs.Duration("action-duration", d.ActionDuration, "time a consumer spends on a sandwich")
	fs.StringSlice("assignment", d.Assignment, "item owned by consumers 0, 1 and 2")
	fs.Int64("seed", d.Seed, "agent random seed; 0 seeds from the clock")
	return cmd
}
