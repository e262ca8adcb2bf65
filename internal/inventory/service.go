// Package inventory consumes restock requests from Kafka and applies them
// to the stock ledger.
package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/pos-orders/internal/kafka"
	"github.com/ariefcatur/pos-orders/internal/metrics"
	"github.com/ariefcatur/pos-orders/internal/orders"
	"github.com/ariefcatur/pos-orders/internal/redisx"
)

type Service struct {
	Ledger      fulfillment.Ledger
	Redis       redis.Cmdable
	ServiceName string
	Log         *zap.Logger
}

// HandleRestockRequested is installed as the consumer handler. A nil return
// commits the offset, so only transient failures are returned; malformed
// events are logged and skipped.
func (s *Service) HandleRestockRequested(ctx context.Context, m kafkago.Message) error {
	log := s.logger().With(zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition))

	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("skip undecodable event", zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventRestockRequested {
		return nil
	} // ignore

	// 2) decode payload
	p, err := kafkax.UnwrapPayload[orders.RestockRequestedPayload](env.Payload)
	if err != nil {
		log.Warn("skip bad restock payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.Type == "" {
		p.Type = orders.MovementRestock
	}
	if p.Quantity <= 0 || p.ProductID == "" || p.Type == orders.MovementSale || !p.Type.Valid() {
		log.Warn("skip invalid restock request", zap.String("event_id", env.EventID),
			zap.String("product_id", p.ProductID), zap.Int("quantity", p.Quantity))
		return nil
	}

	// 3) dedup via Redis (pakai event_id)
	first, err := redisx.MarkOnce(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		log.Debug("duplicate restock event", zap.String("event_id", env.EventID))
		return nil
	}

	ref := p.Reference
	if ref == "" {
		ref = env.EventID
	}
	adj, err := s.Ledger.Adjust(ctx, p.ProductID, p.Quantity, p.Type, ref)
	if err != nil {
		metrics.StockAdjustments.WithLabelValues(string(p.Type), "rejected").Inc()
		if permanent(err) {
			log.Warn("restock rejected", zap.String("product_id", p.ProductID), zap.Error(err))
			return nil
		}
		// lepas marker supaya redelivery bisa diproses ulang
		if ferr := redisx.Forget(context.WithoutCancel(ctx), s.Redis, s.ServiceName, env.EventID); ferr != nil {
			log.Error("forget dedup marker", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("restock %s: %w", p.ProductID, err)
	}
	metrics.StockAdjustments.WithLabelValues(string(p.Type), "ok").Inc()
	log.Info("stock replenished",
		zap.String("event_id", env.EventID),
		zap.String("product_id", p.ProductID),
		zap.Int("quantity", p.Quantity),
		zap.Int("stock", adj.NewQuantity))
	return nil
}

func (s *Service) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func permanent(err error) bool {
	k := fulfillment.KindOf(err)
	return k == fulfillment.KindNotFound || k == fulfillment.KindValidation
}
