package events

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/clock"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidEvent = errors.New("invalid_event")

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock
}

// Outbox stores events in analytics_events for the relay to publish.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{db: p.DB, genID: p.GenID, clock: p.Clock}
}

func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.PublishTx(ctx, o.db, event)
}

// PublishTx enqueues event on tx so it commits with the caller's writes.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return ErrInvalidEvent
	}

	record := &Record{
		ID:        o.genID.Generate(),
		EventType: eventType,
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: o.clock.Now(),
	}
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		record.DedupeKey = &key
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(record).Error
}
