package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/metrics"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

const defaultAckTimeout = 10 * time.Second

// Tracker owns sync_status. pending -> synced|error, and error -> pending only
// on an explicit retry. Every write is compare-and-set against the status the
// tracker just read, so two racing writers cannot both win.
type Tracker struct {
	Store SyncStore
	Ack   Acknowledger // nil: orders stay pending until confirmed by hand

	Retries    int
	AckTimeout time.Duration
	Backoff    func() backoff.BackOff
}

func (t *Tracker) MarkSynced(ctx context.Context, id string) error {
	return t.transition(ctx, id, orders.SyncSynced, "")
}

func (t *Tracker) MarkFailed(ctx context.Context, id, reason string) error {
	return t.transition(ctx, id, orders.SyncError, reason)
}

func (t *Tracker) MarkPending(ctx context.Context, id string) error {
	return t.transition(ctx, id, orders.SyncPending, "")
}

func (t *Tracker) transition(ctx context.Context, id string, to orders.SyncStatus, reason string) error {
	o, err := t.Store.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if o.SyncStatus == to {
		return nil
	}
	if !orders.CanTransitionSync(o.SyncStatus, to) {
		return fmt.Errorf("%w: sync %s -> %s", orders.ErrInvalidTransition, o.SyncStatus, to)
	}
	if err := t.Store.UpdateSyncStatus(ctx, id, o.SyncStatus, to, reason); err != nil {
		return err
	}
	metrics.SyncTransitions.WithLabelValues(string(to)).Inc()
	logging.FromContext(ctx).Info("sync status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.SyncStatus)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	return nil
}

// Acknowledge delivers o and records the outcome. The returned order carries
// the resulting sync status; the error is the delivery failure, if any, and
// is already reflected as sync_status=error.
func (t *Tracker) Acknowledge(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if t.Ack == nil {
		return o, nil
	}
	// delivery outlives the HTTP request that created the order
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.ackTimeout())
	defer cancel()

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackoff(), uint64(max(t.Retries, 0))), actx)
	ackErr := backoff.Retry(func() error { return t.Ack.Acknowledge(actx, o) }, b)
	if ackErr != nil {
		if err := t.MarkFailed(actx, o.ID, ackErr.Error()); err != nil {
			logging.FromContext(ctx).Error("record sync failure", zap.String("order_id", o.ID), zap.Error(err))
		}
		return t.reload(actx, o), ackErr
	}
	if err := t.MarkSynced(actx, o.ID); err != nil {
		return o, err
	}
	return t.reload(actx, o), nil
}

// Retry moves an errored order back to pending and delivers it again. A
// synced order is returned unchanged.
func (t *Tracker) Retry(ctx context.Context, id string) (*orders.Order, error) {
	o, err := t.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	switch o.SyncStatus {
	case orders.SyncSynced:
		return o, nil
	case orders.SyncError:
		if err := t.MarkPending(ctx, id); err != nil {
			return nil, err
		}
		o.SyncStatus, o.SyncError = orders.SyncPending, ""
	}
	res, ackErr := t.Acknowledge(ctx, o)
	if ackErr != nil {
		logging.FromContext(ctx).Warn("sync retry failed", zap.String("order_id", id), zap.Error(ackErr))
	}
	return res, nil
}

func (t *Tracker) reload(ctx context.Context, o *orders.Order) *orders.Order {
	fresh, err := t.Store.GetOrder(ctx, o.ID)
	if err != nil {
		return o
	}
	return fresh
}

func (t *Tracker) ackTimeout() time.Duration {
	if t.AckTimeout > 0 {
		return t.AckTimeout
	}
	return defaultAckTimeout
}

func (t *Tracker) newBackoff() backoff.BackOff {
	if t.Backoff != nil {
		return t.Backoff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
