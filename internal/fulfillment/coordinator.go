package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/metrics"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

// Phase is the coordinator state of one submission.
type Phase string

const (
	PhaseBuilding   Phase = "building"
	PhaseReserving  Phase = "reserving"
	PhaseCommitting Phase = "committing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

const defaultCommitTimeout = 3 * time.Second

type Submission struct {
	Token      string
	CustomerID string
	CreatedBy  string
	Items      []orders.ItemInput
}

type Result struct {
	Order    *orders.Order
	Replayed bool
}

// Coordinator turns a submission into a persisted order: build, reserve stock
// line by line, commit header and lines, then hand over to the tracker. Any
// failure after the first reservation is undone by re-incrementing stock.
type Coordinator struct {
	Builder *orders.Builder
	Ledger  Ledger
	Store   OrderStore
	Idem    IdempotencyStore // optional
	Tracker *Tracker         // optional; without it orders stay sync=pending
	Alerts  AlertPublisher   // optional

	CommitTimeout time.Duration
	// RestoreBackoff paces retries of a single stock restore.
	RestoreBackoff func() backoff.BackOff
}

// Submit runs one submission to Completed or Failed.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.SubmissionDuration.Observe(time.Since(start).Seconds())
		metrics.OrderSubmissions.WithLabelValues(resultLabel(res, err)).Inc()
	}()
	log := logging.FromContext(ctx)
	if sub.Token != "" {
		log = log.With(zap.String("submission_token", sub.Token))
	}

	if sub.Token == "" {
		return c.fulfill(ctx, sub, log)
	}

	if o, err := c.replay(ctx, sub.Token); err != nil || o != nil {
		if err != nil {
			return nil, err
		}
		log.Info("submission replayed", zap.String("order_id", o.ID))
		return &Result{Order: o, Replayed: true}, nil
	}

	held, err := c.holdToken(ctx, sub.Token, log)
	if err != nil {
		return nil, err
	}
	if !held {
		// someone else holds it; they may have just finished
		if o, err := c.replay(ctx, sub.Token); err != nil || o != nil {
			if err != nil {
				return nil, err
			}
			return &Result{Order: o, Replayed: true}, nil
		}
		return nil, ErrSubmissionInFlight
	}

	res, err = c.fulfill(ctx, sub, log)
	c.settleToken(ctx, sub.Token, res, err, log)
	return res, err
}

func (c *Coordinator) fulfill(ctx context.Context, sub Submission, log *zap.Logger) (*Result, error) {
	// Building
	agg, err := c.Builder.Build(ctx, sub.CustomerID, sub.CreatedBy, sub.Items)
	if err != nil {
		err = buildError(err)
		logPhase(log, PhaseFailed, zap.String("failed_in", string(PhaseBuilding)), zap.Error(err))
		return nil, err
	}
	agg.Order.SubmissionToken = sub.Token
	orderID := agg.Order.ID
	log = log.With(zap.String("order_id", orderID))

	// Reserving: lines are sorted by product id, so overlapping orders lock
	// products in the same order.
	logPhase(log, PhaseReserving, zap.Int("lines", len(agg.Lines())))
	reserved := make([]orders.Adjustment, 0, len(agg.Lines()))
	for _, l := range agg.Lines() {
		adj, err := c.Ledger.Adjust(ctx, l.ProductID, -l.Quantity, orders.MovementSale, orderID)
		if err != nil {
			metrics.StockAdjustments.WithLabelValues(string(orders.MovementSale), "rejected").Inc()
			return nil, c.abort(ctx, log, orderID, PhaseReserving, reserved, reserveError(l, err))
		}
		metrics.StockAdjustments.WithLabelValues(string(orders.MovementSale), "ok").Inc()
		reserved = append(reserved, adj)
	}

	// Committing
	logPhase(log, PhaseCommitting)
	cctx, cancel := context.WithTimeout(ctx, c.commitTimeout())
	err = c.Store.InsertOrder(cctx, agg)
	cancel()
	if errors.Is(err, orders.ErrDuplicateSubmission) {
		// a concurrent twin with the same token committed first
		if cerr := c.compensate(ctx, log, orderID, reserved); cerr != nil {
			return nil, &CompensationError{OrderID: orderID, Cause: err, Failures: cerr}
		}
		winner, ferr := c.Store.FindBySubmissionToken(ctx, sub.Token)
		if ferr != nil {
			return nil, &PersistenceError{Op: "load winning submission", Err: ferr}
		}
		log.Info("lost submission race, replaying winner", zap.String("winner_id", winner.ID))
		return &Result{Order: winner, Replayed: true}, nil
	}
	if err != nil {
		// the write may have landed after the deadline fired
		if !c.committed(ctx, log, orderID) {
			return nil, c.abort(ctx, log, orderID, PhaseCommitting, reserved, &PersistenceError{Op: "commit order", Err: err})
		}
		log.Warn("commit reported failure but order is stored", zap.Error(err))
	}

	// Completed
	o := agg.Order
	logPhase(log, PhaseCompleted, zap.String("total", o.TotalAmount.StringFixed(2)))
	c.alertLowStock(ctx, reserved, orderID)

	if c.Tracker != nil {
		synced, ackErr := c.Tracker.Acknowledge(ctx, &o)
		if ackErr != nil {
			log.Warn("order not acknowledged", zap.Error(ackErr))
		}
		return &Result{Order: synced}, nil
	}
	return &Result{Order: &o}, nil
}

// committed checks on a detached context whether the order row exists.
func (c *Coordinator) committed(ctx context.Context, log *zap.Logger, orderID string) bool {
	_, err := c.Store.GetOrder(context.WithoutCancel(ctx), orderID)
	if err != nil && !errors.Is(err, orders.ErrOrderNotFound) {
		log.Warn("verify commit", zap.Error(err))
	}
	return err == nil
}

// abort compensates and decides what the caller sees: the original cause, or
// a CompensationError when stock could not be fully restored.
func (c *Coordinator) abort(ctx context.Context, log *zap.Logger, orderID string, phase Phase, reserved []orders.Adjustment, cause error) error {
	logPhase(log, PhaseFailed, zap.String("failed_in", string(phase)), zap.Error(cause))
	if failures := c.compensate(ctx, log, orderID, reserved); failures != nil {
		return &CompensationError{OrderID: orderID, Cause: cause, Failures: failures}
	}
	return cause
}

// compensate gives back every reservation of this submission in reverse
// order. It runs on a context detached from the caller so a disconnecting
// client cannot leave stock decremented.
func (c *Coordinator) compensate(ctx context.Context, log *zap.Logger, orderID string, reserved []orders.Adjustment) []RestoreFailure {
	if len(reserved) == 0 {
		return nil
	}
	dctx := context.WithoutCancel(ctx)
	ref := "compensate:" + orderID

	var failures []RestoreFailure
	for i := len(reserved) - 1; i >= 0; i-- {
		adj := reserved[i]
		qty := -adj.Delta
		err := backoff.Retry(func() error {
			_, err := c.Ledger.Adjust(dctx, adj.ProductID, qty, orders.MovementAdjustment, ref)
			if errors.Is(err, orders.ErrProductNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(c.restoreBackoff(), dctx))
		if err != nil {
			metrics.Compensations.WithLabelValues("failed").Inc()
			log.Error("stock restore failed, manual reconciliation required",
				zap.String("product_id", adj.ProductID),
				zap.Int("quantity", qty),
				zap.Error(err))
			failures = append(failures, RestoreFailure{ProductID: adj.ProductID, Quantity: qty, Err: err})
			continue
		}
		metrics.Compensations.WithLabelValues("ok").Inc()
		metrics.StockAdjustments.WithLabelValues(string(orders.MovementAdjustment), "ok").Inc()
	}
	if failures == nil {
		log.Info("reservation compensated", zap.Int("lines", len(reserved)))
	}
	return failures
}

func (c *Coordinator) alertLowStock(ctx context.Context, reserved []orders.Adjustment, orderID string) {
	if c.Alerts == nil {
		return
	}
	for _, adj := range reserved {
		if adj.BelowThreshold() {
			c.Alerts.LowStock(ctx, adj, orderID)
		}
	}
}

// replay returns the order already created for token, or nil.
func (c *Coordinator) replay(ctx context.Context, token string) (*orders.Order, error) {
	if c.Idem != nil {
		if id, ok, err := c.Idem.Lookup(ctx, token); err == nil && ok {
			o, err := c.Store.GetOrder(ctx, id)
			if err == nil {
				return o, nil
			}
			if !errors.Is(err, orders.ErrOrderNotFound) {
				return nil, &PersistenceError{Op: "load replayed order", Err: err}
			}
		}
	}
	o, err := c.Store.FindBySubmissionToken(ctx, token)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "lookup submission token", Err: err}
	}
	return o, nil
}

// holdToken marks token in flight. When the idempotency store is down the
// submission proceeds and the UNIQUE constraint on orders catches twins.
func (c *Coordinator) holdToken(ctx context.Context, token string, log *zap.Logger) (bool, error) {
	if c.Idem == nil {
		return true, nil
	}
	ok, err := c.Idem.Reserve(ctx, token)
	if err != nil {
		log.Warn("idempotency store unavailable, relying on database constraint", zap.Error(err))
		return true, nil
	}
	return ok, nil
}

func (c *Coordinator) settleToken(ctx context.Context, token string, res *Result, err error, log *zap.Logger) {
	if c.Idem == nil {
		return
	}
	dctx := context.WithoutCancel(ctx)
	if err != nil {
		// failed attempt left nothing behind; let the client retry
		if rerr := c.Idem.Release(dctx, token); rerr != nil {
			log.Warn("release submission token", zap.Error(rerr))
		}
		return
	}
	if cerr := c.Idem.Complete(dctx, token, res.Order.ID); cerr != nil {
		log.Warn("complete submission token", zap.Error(cerr))
	}
}

// ---- update / delete / reads ----

// UpdateOrder changes business status and/or sync status. Nil means keep.
func (c *Coordinator) UpdateOrder(ctx context.Context, id string, status *orders.Status, sync *orders.SyncStatus) (*orders.Order, error) {
	o, err := c.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if status != nil && *status != o.Status {
		if !status.Valid() {
			return nil, &orders.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *status)}
		}
		if !orders.CanTransition(o.Status, *status) {
			return nil, fmt.Errorf("%w: status %s -> %s", orders.ErrInvalidTransition, o.Status, *status)
		}
		if err := c.Store.UpdateStatus(ctx, id, o.Status, *status); err != nil {
			return nil, err
		}
	}
	if sync != nil && *sync != o.SyncStatus {
		if !sync.Valid() {
			return nil, &orders.ValidationError{Field: "sync_status", Reason: fmt.Sprintf("unknown sync status %q", *sync)}
		}
		if err := c.tracker().transition(ctx, id, *sync, ""); err != nil {
			return nil, err
		}
	}
	logging.FromContext(ctx).Info("order updated", zap.String("order_id", id))
	return c.Store.GetOrder(ctx, id)
}

// DeleteOrder removes the order and its lines. Stock already sold stays sold.
func (c *Coordinator) DeleteOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := c.Store.DeleteOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	if c.Idem != nil && o.SubmissionToken != "" {
		// the token is free again, same as with the database alone
		if err := c.Idem.Forget(context.WithoutCancel(ctx), o.SubmissionToken); err != nil {
			log.Warn("forget submission token", zap.String("order_id", id), zap.Error(err))
		}
	}
	log.Info("order deleted", zap.String("order_id", id), zap.Int("lines", len(o.Items)))
	return o, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return c.Store.GetOrder(ctx, id)
}

func (c *Coordinator) ListOrders(ctx context.Context, limit int) ([]orders.Order, error) {
	return c.Store.ListOrders(ctx, limit)
}

// RetrySync is the client-initiated error -> pending -> acknowledge path.
func (c *Coordinator) RetrySync(ctx context.Context, id string) (*orders.Order, error) {
	return c.tracker().Retry(ctx, id)
}

func (c *Coordinator) tracker() *Tracker {
	if c.Tracker != nil {
		return c.Tracker
	}
	return &Tracker{Store: c.Store}
}

func (c *Coordinator) commitTimeout() time.Duration {
	if c.CommitTimeout > 0 {
		return c.CommitTimeout
	}
	return defaultCommitTimeout
}

func (c *Coordinator) restoreBackoff() backoff.BackOff {
	if c.RestoreBackoff != nil {
		return c.RestoreBackoff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.WithMaxRetries(b, 3)
}

func buildError(err error) error {
	var ve *orders.ValidationError
	if errors.As(err, &ve) || errors.Is(err, orders.ErrCustomerNotFound) {
		return err
	}
	return &PersistenceError{Op: "build order", Err: err}
}

func reserveError(l orders.OrderLine, err error) error {
	var ise *orders.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		return &StockConflictError{ProductID: ise.ProductID, Requested: ise.Requested, Available: ise.Available}
	case errors.Is(err, orders.ErrProductNotFound):
		return &orders.ValidationError{Field: "items.product_id", Reason: fmt.Sprintf("product %s no longer exists", l.ProductID)}
	}
	return &PersistenceError{Op: "reserve stock", Err: err}
}

func logPhase(log *zap.Logger, p Phase, fields ...zap.Field) {
	fields = append(fields, zap.String("phase", string(p)))
	if p == PhaseFailed {
		log.Warn("order submission failed", fields...)
		return
	}
	log.Debug("order submission phase", fields...)
}

func resultLabel(res *Result, err error) string {
	switch {
	case err != nil:
		return string(KindOf(err))
	case res != nil && res.Replayed:
		return "replayed"
	}
	return "created"
}
