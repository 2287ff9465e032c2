// Package audit records administrator-visible events. The store is the
// system of record; webhook and Kafka sinks are best-effort copies.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
)

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev model.AuditEvent) error
}

// Appender is the persistence side of the store sink.
type Appender interface {
	AppendAudit(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// StoreSink persists events through an Appender.
type StoreSink struct {
	store Appender
}

// NewStoreSink wraps an Appender.
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, ev model.AuditEvent) error {
	_, err := s.store.AppendAudit(ctx, ev)
	return eris.Wrap(err, "audit: append")
}

// Fanout writes every event to a primary sink and then copies it to the
// secondaries. Only primary failures are returned.
type Fanout struct {
	primary     Sink
	secondaries []Sink
	closers     []func() error
	timeout     time.Duration
	now         func() time.Time
}

// defaultSinkTimeout bounds each secondary write.
const defaultSinkTimeout = 5 * time.Second

// NewFanout builds a Fanout.
func NewFanout(primary Sink, secondaries ...Sink) *Fanout {
	return &Fanout{primary: primary, secondaries: secondaries, timeout: defaultSinkTimeout, now: time.Now}
}

// New builds the configured fan-out: the store, plus a webhook and a Kafka
// producer when configured.
func New(cfg config.AuditConfig, store Appender) (*Fanout, error) {
	f := NewFanout(NewStoreSink(store))
	if cfg.SinkTimeoutSecs > 0 {
		f.timeout = time.Duration(cfg.SinkTimeoutSecs) * time.Second
	}
	if cfg.WebhookURL != "" {
		f.secondaries = append(f.secondaries, NewWebhook(cfg.WebhookURL, nil))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := NewKafka(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		f.secondaries = append(f.secondaries, k)
		f.closers = append(f.closers, k.Close)
	}
	return f, nil
}

// Record implements Sink. The event id and timestamp are fixed before any
// sink sees the event so every copy carries the same identity.
func (f *Fanout) Record(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = f.now().UTC()
	}

	if err := f.primary.Record(ctx, ev); err != nil {
		return err
	}
	for _, s := range f.secondaries {
		if err := f.recordSecondary(ctx, s, ev); err != nil {
			zap.L().Warn("audit: secondary sink failed",
				zap.String("event_id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// recordSecondary gives one secondary sink at most f.timeout. Callers often
// pass a context detached from the request, so the bound is applied here.
func (f *Fanout) recordSecondary(ctx context.Context, s Sink, ev model.AuditEvent) error {
	if f.timeout <= 0 {
		return s.Record(ctx, ev)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return s.Record(ctx, ev)
}

// Close releases sink resources.
func (f *Fanout) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
