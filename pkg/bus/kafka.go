package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Kafka carries envelopes over one topic per destination ledger. Each ledger
// consumes its own topic in a dedicated consumer group and commits an offset
// only once the message was handled or found permanently unusable.
type Kafka struct {
	endpoint

	writer   *kafka.Writer
	reader   *kafka.Reader
	log      *zap.Logger
	classify func(error) order.Class

	retryDelay time.Duration
}

var _ Bus = (*Kafka)(nil)

type KafkaConfig struct {
	Self     order.LedgerID
	Brokers  []string
	Fees     FeeSchedule
	Attester Attester
	Verifier Verifier
	Logger   *zap.Logger
	// Classify maps handler errors to retry classes. Records are committed
	// only for ClassNeverValid and ClassConsumed. Defaults to order.Classify.
	Classify func(error) order.Class
}

func kafkaTopic(id order.LedgerID) string {
	return fmt.Sprintf("crossledger.ledger.%d", id)
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	classify := cfg.Classify
	if classify == nil {
		classify = order.Classify
	}
	k := &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     fmt.Sprintf("crossledger-%d", cfg.Self),
			Topic:       kafkaTopic(cfg.Self),
			StartOffset: kafka.FirstOffset,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Error(fmt.Sprintf(msg, args...))
			}),
		}),
		log:        log,
		classify:   classify,
		retryDelay: time.Second,
	}
	k.init(cfg.Self, cfg.Fees, cfg.Attester, cfg.Verifier)
	return k, nil
}

// toMessage frames an envelope as a kafka record keyed by message id.
func toMessage(env *Envelope) (kafka.Message, error) {
	data, err := encodeEnvelope(env)
	if err != nil {
		return kafka.Message{}, err
	}
	id := env.ID()
	return kafka.Message{
		Topic: kafkaTopic(env.Dest),
		Key:   id.Bytes(),
		Value: data,
	}, nil
}

func (k *Kafka) Send(ctx context.Context, dest order.LedgerID, payload []byte, opts DeliveryOptions) (Receipt, error) {
	env, rcpt, err := k.seal(dest, payload, opts)
	if err != nil {
		return Receipt{}, err
	}
	msg, err := toMessage(env)
	if err != nil {
		return Receipt{}, err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return Receipt{}, fmt.Errorf("kafka write: %w", err)
	}
	return rcpt, nil
}

// Run consumes the local topic until ctx ends.
func (k *Kafka) Run(ctx context.Context) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.Error("kafka fetch failed", zap.Error(err))
			continue
		}

		if err := k.handle(ctx, msg); err != nil {
			return err
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.log.Error("kafka commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

// handle applies one record. It returns nil once the record may be
// committed: it was applied, already applied, or can never apply. Anything
// else, including storage failures, is retried in place until ctx ends.
func (k *Kafka) handle(ctx context.Context, msg kafka.Message) error {
	env, err := decodeEnvelope(msg.Value)
	if err != nil {
		k.log.Warn("kafka envelope decode failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		return nil
	}
	for {
		err := k.accept(ctx, env)
		if err == nil {
			return nil
		}
		fields := []zap.Field{
			zap.Uint32("sender", uint32(env.Sender)),
			zap.Uint64("seq", env.Seq),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		}
		if k.consumable(err) {
			k.log.Warn("message rejected", fields...)
			return nil
		}
		if k.classify(err) == order.ClassInternal {
			k.log.Error("message failed, retrying", fields...)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(k.retryDelay):
		}
	}
}

// consumable reports whether a rejected record can be committed.
func (k *Kafka) consumable(err error) bool {
	if errors.Is(err, ErrMisrouted) || errors.Is(err, ErrUnattested) {
		return true
	}
	switch k.classify(err) {
	case order.ClassNeverValid, order.ClassConsumed:
		return true
	}
	return false
}

func (k *Kafka) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}
