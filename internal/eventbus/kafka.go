package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	logx "dutyrec/pkg/logx"
)

// KafkaConfig enables forwarding of bus events to a Kafka topic.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder subscribes to a Bus and writes every event as a JSON
// message keyed by event type. Slow brokers drop events rather than
// stall publishers.
type KafkaForwarder struct {
	w   messageWriter
	log logx.Logger
}

func NewKafkaForwarder(cfg KafkaConfig, log logx.Logger) (*KafkaForwarder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: topic must not be empty")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaForwarder{w: w, log: log}, nil
}

// Run forwards events until ctx is done, then closes the writer.
func (f *KafkaForwarder) Run(ctx context.Context, bus Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	defer func() {
		if err := f.w.Close(); err != nil {
			f.log.Debug("kafka writer close failed", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			f.write(ctx, e)
		}
	}
}

func (f *KafkaForwarder) write(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		f.log.Debug("event not serializable", logx.String("type", e.Type), logx.Err(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.w.WriteMessages(wctx, kafka.Message{Key: []byte(e.Type), Value: b, Time: e.Time}); err != nil {
		f.log.Warn("kafka publish failed", logx.String("type", e.Type), logx.Err(err))
	}
}
