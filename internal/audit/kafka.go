package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka publishes events to a topic, keyed by event id.
type Kafka struct {
	topic    string
	timeout  time.Duration
	producer producer
}

// defaultKafkaTimeout bounds one produce when the config sets none.
const defaultKafkaTimeout = 5 * time.Second

// NewKafka connects a producer to cfg.Brokers.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, eris.New("audit: kafka needs at least one broker")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "credverify.audit"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultKafkaTimeout
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(0),
		kgo.RecordDeliveryTimeout(timeout),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, eris.Wrap(err, "audit: kafka client")
	}
	return &Kafka{topic: topic, timeout: timeout, producer: cl}, nil
}

// Record implements Sink. The produce is bounded by the configured timeout
// even when ctx has no deadline.
func (k *Kafka) Record(ctx context.Context, ev model.AuditEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "audit: marshal event")
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(ev.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	if err := k.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return eris.Wrapf(err, "audit: produce to %s", k.topic)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	k.producer.Close()
	return nil
}
