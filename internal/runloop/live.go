package runloop

import (
	"context"
	stderrors "errors"

	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/intake"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/internal/venue"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// message is one input of the live loop. Exactly one field is set.
type message struct {
	batch  *types.Batch
	update *venue.Update
	// feedErr ends the run with the error the feed reported.
	feedErr error
	// feedDone marks the end of the market data stream.
	feedDone bool
}

// RunLive trades the strategy against a venue while market data arrives.
//
// The feed and the venue report through one intake queue consumed by a
// single goroutine, so state is only ever touched by that goroutine.
// Market batches follow the configured back-pressure policy; venue updates
// are never dropped. Working orders are left at the venue when the run ends.
func (r *Runner) RunLive(
	ctx context.Context,
	source feed.Feed,
	v venue.Venue,
	strategy decision.Strategy,
	initial Initial,
	cfg Config,
) (types.AccountSnapshot, error) {
	if source == nil {
		return types.AccountSnapshot{}, errors.New(errors.ErrCodeRunNoDatasource, "feed is required")
	}

	if v == nil {
		return types.AccountSnapshot{}, errors.New(errors.ErrCodeRunNoVenue, "venue is required")
	}

	session, err := r.start(ctx, strategy, initial, cfg)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	defer r.release()

	cfg = cfg.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var queue *intake.Queue[message]

	queue, err = intake.New[message](cfg.Live.QueueCapacity, cfg.Live.BackPressure, r.logger,
		intake.WithWallClock[message](r.wall),
		intake.WithDropHandler(func(message) {
			r.callbacks.EventDropped(queue.Dropped())
		}),
	)
	if err != nil {
		return r.finish(session, err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return ignoreCancel(v.Run(groupCtx))
	})
	group.Go(func() error {
		return forwardUpdates(groupCtx, v, queue)
	})
	group.Go(func() error {
		return forwardFeed(groupCtx, source, queue)
	})

	// Stop only interrupts waiting for input, never a batch in flight.
	waitCtx, stop := context.WithCancel(groupCtx)
	defer stop()

	r.mu.Lock()
	r.cancel = stop
	r.mu.Unlock()

	if r.stopped.Load() {
		stop()
	}

	loop := &liveLoop{runner: r, session: session, venue: v, queue: queue, cfg: cfg, stalls: 0}
	runErr := loop.run(groupCtx, waitCtx)

	cancel()
	queue.Close()

	if err := group.Wait(); err != nil && (runErr == nil || stderrors.Is(runErr, context.Canceled)) {
		runErr = err
	}

	return r.finish(session, runErr)
}

func forwardFeed(ctx context.Context, source feed.Feed, queue *intake.Queue[message]) error {
	for batch, err := range source.Batches(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return ignoreCancel(queue.Deliver(ctx, message{feedErr: err}))
		}

		if err := queue.Publish(ctx, message{batch: &batch}); err != nil {
			return ignoreCancel(err)
		}
	}

	return ignoreCancel(queue.Deliver(ctx, message{feedDone: true}))
}

func forwardUpdates(ctx context.Context, v venue.Venue, queue *intake.Queue[message]) error {
	updates := v.Updates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			if err := queue.Deliver(ctx, message{update: &update}); err != nil {
				return ignoreCancel(err)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if err == nil || stderrors.Is(err, context.Canceled) || errors.HasCode(err, errors.ErrCodeQueueClosed) {
		return nil
	}

	return err
}

type liveLoop struct {
	runner  *Runner
	session *Session
	venue   venue.Venue
	queue   *intake.Queue[message]
	cfg     Config
	stalls  int
}

func (l *liveLoop) run(ctx, waitCtx context.Context) error {
	log := l.runner.logger

	for {
		if l.runner.stopped.Load() {
			log.Info("Run stopped", zap.Int("step", l.session.Step()))

			return nil
		}

		msg, err := l.queue.Receive(waitCtx, l.cfg.Live.StallTimeout)
		if err != nil {
			if errors.IsRecoverable(err) {
				if stallErr := l.stalled(err); stallErr != nil {
					return stallErr
				}

				continue
			}

			if l.runner.stopped.Load() {
				return nil
			}

			return err
		}

		l.stalls = 0

		switch {
		case msg.feedErr != nil:
			return l.runner.feedError(ctx, msg.feedErr)
		case msg.feedDone:
			log.Info("Feed ended", zap.Int("step", l.session.Step()))

			return nil
		case msg.update != nil:
			if err := l.session.ApplyVenueUpdate(ctx, *msg.update); err != nil {
				return err
			}
		case msg.batch != nil:
			if reachedUntil(l.cfg, *msg.batch) {
				log.Info("Reached end time", zap.Time("time", msg.batch.Time))

				return nil
			}

			if err := l.session.ProcessLive(ctx, *msg.batch, l.venue); err != nil {
				return err
			}

			if reachedMaxSteps(l.cfg, l.session.Step()) {
				log.Info("Reached max steps", zap.Int("step", l.session.Step()))

				return nil
			}
		}
	}
}

func (l *liveLoop) stalled(err error) error {
	l.stalls++
	l.runner.callbacks.FeedStalled(l.stalls, l.cfg.Live.StallTimeout)
	l.runner.logger.Warn("No input within stall timeout",
		zap.Int("consecutive", l.stalls),
		zap.Duration("timeout", l.cfg.Live.StallTimeout),
	)

	if l.cfg.Live.MaxConsecutiveStalls > 0 && l.stalls >= l.cfg.Live.MaxConsecutiveStalls {
		return errors.Wrapf(errors.ErrCodeFeedStalled, err, "feed stalled %d times in a row", l.stalls)
	}

	return nil
}

// ProcessLive handles one market batch in live mode. Expiry and order
// acceptance run locally; accepted orders are then submitted to the venue,
// which reports fills and terminal states through ApplyVenueUpdate.
func (s *Session) ProcessLive(ctx context.Context, batch types.Batch, v venue.Venue) error {
	snapshot, err := s.Next(batch)
	if err != nil {
		return err
	}

	output, err := s.Decide(ctx, snapshot)
	if err != nil {
		return err
	}

	state := s.state.Clone()
	state.Last = s.lastWith(batch)

	expired, err := s.engine.Expire(ctx, state, batch.Time)
	if err != nil {
		return err
	}

	accepted, err := s.engine.Accept(ctx, expired.State, output.Orders, batch.Time)
	if err != nil {
		return err
	}

	result := execution.Result{
		State:   accepted.State,
		Fills:   nil,
		Updates: append(expired.Updates, accepted.Updates...),
	}

	if err := s.commit(result); err != nil {
		return err
	}

	s.step++
	s.notify(ctx, batch.Time, result)

	if err := s.clock.Advance(batch.Time); err != nil {
		return err
	}

	for _, update := range expired.Updates {
		s.cancelAtVenue(ctx, v, update.OrderID)
	}

	for _, cancel := range output.Cancels {
		if _, ok := s.state.Book.Get(cancel.OrderID); !ok {
			s.logger.Warn("Cancel for an order that is not working", zap.String("order_id", cancel.OrderID))

			continue
		}

		s.cancelAtVenue(ctx, v, cancel.OrderID)
	}

	if aware, ok := v.(venue.MarketAware); ok {
		aware.OnBatch(batch)
	}

	for _, update := range accepted.Updates {
		if update.Status != types.OrderStatusOpen {
			continue
		}

		if err := s.submit(ctx, v, update.OrderID); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) submit(ctx context.Context, v venue.Venue, orderID string) error {
	order, ok := s.state.Book.Get(orderID)
	if !ok {
		return nil
	}

	submitErr := v.Submit(ctx, order)
	if submitErr == nil {
		return nil
	}

	s.logger.Warn("Venue refused order",
		zap.String("order_id", orderID),
		zap.String("instrument", order.InstrumentID),
		zap.Error(submitErr),
	)

	reason := types.Reason{Reason: types.OrderReasonVenueRejected, Message: submitErr.Error()}
	if errors.HasCode(submitErr, errors.ErrCodeVenueError) {
		reason.Reason = types.OrderReasonVenueError
	}

	result, err := s.engine.Close(ctx, s.state, orderID, types.OrderStatusRejected, reason, s.clock.Now())
	if err != nil {
		return err
	}

	if err := s.commit(result); err != nil {
		return err
	}

	s.notify(ctx, s.clock.Now(), result)

	return nil
}

func (s *Session) cancelAtVenue(ctx context.Context, v venue.Venue, orderID string) {
	if err := v.Cancel(ctx, orderID); err != nil {
		s.logger.Warn("Venue cancel failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// ApplyVenueUpdate books one venue report. Reports for orders that are no
// longer working are logged and ignored; only fatal errors are returned.
func (s *Session) ApplyVenueUpdate(ctx context.Context, update venue.Update) error {
	order, ok := s.state.Book.Get(update.OrderID)
	if !ok {
		s.logger.Warn("Venue update for an order that is not working",
			zap.String("order_id", update.OrderID),
			zap.String("kind", string(update.Kind)),
		)

		return nil
	}

	at := update.Time
	if at.IsZero() {
		at = s.clock.Now()
	}

	var (
		result execution.Result
		err    error
	)

	switch update.Kind {
	case venue.UpdateKindAck:
		s.logger.Debug("Venue acknowledged order", zap.String("order_id", update.OrderID))

		return nil
	case venue.UpdateKindFill:
		fill := update.Fill
		if fill.OrderID == "" {
			fill.OrderID = update.OrderID
		}

		result, err = s.engine.ApplyExternalFill(ctx, s.state, fill)
		at = fill.Time
	case venue.UpdateKindReject:
		status := types.OrderStatusRejected
		if !order.Status.CanTransitionTo(status) {
			status = types.OrderStatusCancelled
		}

		result, err = s.engine.Close(ctx, s.state, order.ID, status, venueReason(update, types.OrderReasonVenueRejected), at)
	case venue.UpdateKindCancelled:
		result, err = s.engine.Close(ctx, s.state, order.ID, types.OrderStatusCancelled,
			venueReason(update, types.OrderReasonCancelRequested), at)
	case venue.UpdateKindExpired:
		result, err = s.engine.Close(ctx, s.state, order.ID, types.OrderStatusExpired,
			venueReason(update, types.OrderReasonExpireAtReached), at)
	default:
		s.logger.Warn("Unknown venue update", zap.String("kind", string(update.Kind)))

		return nil
	}

	if err != nil {
		if errors.IsFatal(err) || ctx.Err() != nil {
			return err
		}

		s.logger.Warn("Venue update could not be applied",
			zap.String("order_id", update.OrderID),
			zap.String("kind", string(update.Kind)),
			zap.Error(err),
		)

		return nil
	}

	if err := s.commit(result); err != nil {
		return err
	}

	s.notify(ctx, at, result)

	return nil
}

func venueReason(update venue.Update, fallback string) types.Reason {
	if update.Reason.Reason != "" {
		return update.Reason
	}

	return types.Reason{Reason: fallback, Message: "reported by venue"}
}
