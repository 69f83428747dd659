package quota

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/kv"
	"github.com/cosplaymagic/server/internal/shared/events"
)

// Quota event names reported to the EventRecorder.
const (
	EventIncrement    = "increment"
	EventUpgrade      = "upgrade"
	EventRollingReset = "rolling_reset"
)

// EventRecorder counts ledger transitions.
type EventRecorder interface {
	RecordQuotaEvent(event string)
}

// Publisher receives domain events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Ledger tracks per-identity generation usage. Persistence failures are
// logged and never returned; callers always get the record as it should be.
type Ledger struct {
	store     kv.Store
	keys      kv.Keyspace
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time
	recorder  EventRecorder
	publisher Publisher
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r EventRecorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

// WithPublisher attaches an event publisher for subscription changes.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// NewLedger creates a new quota ledger.
func NewLedger(store kv.Store, keys kv.Keyspace, limits Limits, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		keys:   keys,
		limits: limits.normalize(),
		logger: logger.Named("quota"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits returns the effective tier limits.
func (l *Ledger) Limits() Limits {
	return l.limits
}

// Load returns the identity's record, creating the default one on first
// use and applying the rolling reset for subscriptions older than a period.
// An empty identity yields the disabled sentinel.
func (l *Ledger) Load(ctx context.Context, identity string) *Record {
	if identity == "" {
		return l.sentinel()
	}
	key := l.keys.Key(kv.NamespaceQuota, identity)

	var rec Record
	err := kv.GetJSON(ctx, l.store, key, &rec)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		fresh := l.defaultRecord(identity)
		if err := kv.SetJSON(ctx, l.store, key, fresh); err != nil {
			l.logger.Error("failed to persist initial quota", zap.String("identity", identity), zap.Error(err))
		}
		return fresh
	case err != nil:
		l.logger.Error("failed to load quota, using default", zap.String("identity", identity), zap.Error(err))
		return l.defaultRecord(identity)
	}

	rec.Identity = identity
	if l.needsReset(&rec) {
		return l.persistReset(ctx, key, &rec)
	}
	rec.Limit = l.limits.limitFor(rec.IsSubscribed)
	return &rec
}

// persistReset applies the rolling reset under the store's atomic update so
// a concurrent increment is not overwritten.
func (l *Ledger) persistReset(ctx context.Context, key string, loaded *Record) *Record {
	var result *Record
	err := kv.UpdateJSON(ctx, l.store, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			cur = l.defaultRecord(loaded.Identity)
		}
		cur.Identity = loaded.Identity
		reset := l.normalize(cur)
		result = cur
		if !reset {
			return nil, nil
		}
		return cur, nil
	})
	if err != nil {
		l.logger.Error("failed to persist quota reset", zap.String("identity", loaded.Identity), zap.Error(err))
		l.normalize(loaded)
		return loaded
	}
	return result
}

// IncrementUsage counts one successful generation. It is a no-op for an
// empty identity or when the limit is already reached.
func (l *Ledger) IncrementUsage(ctx context.Context, identity string) *Record {
	if identity == "" {
		return l.sentinel()
	}
	key := l.keys.Key(kv.NamespaceQuota, identity)

	var result *Record
	incremented := false
	err := kv.UpdateJSON(ctx, l.store, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			cur = l.defaultRecord(identity)
		}
		cur.Identity = identity
		l.normalize(cur)
		result = cur
		incremented = false
		if cur.Used >= cur.Limit {
			return nil, nil
		}
		cur.Used++
		incremented = true
		return cur, nil
	})
	if err != nil {
		l.logger.Error("failed to persist quota increment", zap.String("identity", identity), zap.Error(err))
		if result == nil {
			return l.defaultRecord(identity)
		}
		return result
	}

	if incremented {
		l.record(EventIncrement)
	}
	return result
}

// Upgrade switches the identity to the premium tier and starts a new period.
// Upgrading again resets usage and refreshes the period start.
func (l *Ledger) Upgrade(ctx context.Context, identity string) *Record {
	if identity == "" {
		return l.sentinel()
	}

	start := l.now()
	rec := &Record{
		Used:              0,
		Limit:             l.limits.limitFor(true),
		IsSubscribed:      true,
		SubscriptionStart: &start,
		Identity:          identity,
	}

	// Goes through Update so it serializes with IncrementUsage on the same key.
	key := l.keys.Key(kv.NamespaceQuota, identity)
	err := kv.UpdateJSON(ctx, l.store, key, func(*Record) (*Record, error) {
		next := *rec
		return &next, nil
	})
	if err != nil {
		l.logger.Error("failed to persist premium quota", zap.String("identity", identity), zap.Error(err))
	}

	l.record(EventUpgrade)
	if l.publisher != nil {
		l.publisher.Publish(ctx, &events.SubscriptionStartedEvent{
			BaseEvent: events.NewBaseEvent(events.SubscriptionStartedType, identity, start),
			Limit:     rec.Limit,
		})
	}
	l.logger.Info("subscription started", zap.String("identity", identity), zap.Int("limit", rec.Limit))
	return rec
}

// normalize applies the rolling reset and re-derives the limit. It reports
// whether a reset happened.
func (l *Ledger) normalize(rec *Record) bool {
	reset := l.needsReset(rec)
	if reset {
		now := l.now()
		rec.Used = 0
		rec.SubscriptionStart = &now
		l.record(EventRollingReset)
	}
	rec.Limit = l.limits.limitFor(rec.IsSubscribed)
	return reset
}

func (l *Ledger) needsReset(rec *Record) bool {
	if !rec.IsSubscribed || rec.SubscriptionStart == nil {
		return false
	}
	return l.now().Sub(*rec.SubscriptionStart) > l.limits.Period
}

func (l *Ledger) defaultRecord(identity string) *Record {
	return &Record{
		Used:     0,
		Limit:    l.limits.Free,
		Identity: identity,
	}
}

func (l *Ledger) sentinel() *Record {
	return &Record{Used: 0, Limit: l.limits.Free}
}

func (l *Ledger) record(event string) {
	if l.recorder != nil {
		l.recorder.RecordQuotaEvent(event)
	}
}
