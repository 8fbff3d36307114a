package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/homeledger/internal/clock"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Message is one outbox row ready for the broker.
type Message struct {
	Key       string
	EventType string
	DedupeKey string
	Value     []byte
	Time      time.Time
}

// Publisher delivers messages to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, messages []Message) error
}

type RelayParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Publisher Publisher           `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Relay moves pending outbox rows to the Publisher. Rows are marked
// published only after the Publisher accepted the whole batch, so a crash
// in between republishes; consumers de-duplicate on dedupe key.
type Relay struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	publisher Publisher
	metrics   *obsmetrics.Metrics
}

func NewRelay(p RelayParams) *Relay {
	return &Relay{
		db:        p.DB,
		log:       p.Log.Named("events.relay"),
		clock:     p.Clock,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

// Enabled reports whether a broker is configured.
func (r *Relay) Enabled() bool {
	return r != nil && r.publisher != nil
}

// ProcessPending publishes up to limit pending events and returns how many
// were marked published.
func (r *Relay) ProcessPending(ctx context.Context, limit int) (int, error) {
	if !r.Enabled() || limit <= 0 {
		return 0, nil
	}

	published := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []Record
		if err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Where("published = ?", false).
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		messages := make([]Message, 0, len(pending))
		ids := make([]int64, 0, len(pending))
		counts := map[string]int{}
		for _, record := range pending {
			msg, err := toMessage(record)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
			ids = append(ids, int64(record.ID))
			counts[record.EventType]++
		}

		if err := r.publisher.Publish(ctx, messages); err != nil {
			return err
		}

		now := r.clock.Now()
		if err := tx.WithContext(ctx).
			Model(&Record{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"published": true, "published_at": now}).Error; err != nil {
			return err
		}

		published = len(pending)
		for eventType, count := range counts {
			r.metrics.RecordOutboxPublished(ctx, eventType, count)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("outbox relay failed", zap.Error(err))
		return 0, err
	}
	if published > 0 {
		r.log.Debug("outbox relay published events", zap.Int("count", published))
	}
	return published, nil
}

func toMessage(record Record) (Message, error) {
	value, err := json.Marshal(map[string]any{
		"id":         record.ID.String(),
		"event_type": record.EventType,
		"payload":    record.Payload,
		"created_at": record.CreatedAt.UTC(),
	})
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Key:       record.ID.String(),
		EventType: record.EventType,
		Value:     value,
		Time:      record.CreatedAt,
	}
	if record.DedupeKey != nil {
		msg.DedupeKey = *record.DedupeKey
		msg.Key = *record.DedupeKey
	}
	return msg, nil
}
