package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/xdg-go/scram"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Username and Password enable SASL SCRAM-SHA-512.
	Username string
	Password string

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type kafkaResult struct {
	Partition int32
	Offset    int64
}

// KafkaPublisher sends every envelope to one topic through a sync producer.
// The routing key becomes the message key.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker[kafkaResult]
	log      *slog.Logger
}

// NewSaramaConfig builds the producer config, with SCRAM when credentials are set.
func NewSaramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_8_0_0
	sc.ClientID = Producer
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 0

	if cfg.Username != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		sc.Net.SASL.User = cfg.Username
		sc.Net.SASL.Password = cfg.Password
		sc.Net.SASL.Handshake = true
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: scram.SHA512}
		}
	}
	return sc
}

func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("eventbus: kafka brokers and topic are required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("eventbus: kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, cfg, log), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, cfg KafkaConfig, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[kafkaResult](gobreaker.Settings{
		Name:    "KafkaPublisher",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
	return &KafkaPublisher{producer: producer, topic: cfg.Topic, breaker: breaker, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res, err := p.breaker.Execute(func() (kafkaResult, error) {
		partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(body),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event"), Value: []byte(msg.Meta.Type)},
				{Key: []byte("message_id"), Value: []byte(msg.Meta.ID)},
			},
		})
		return kafkaResult{Partition: partition, Offset: offset}, err
	})
	if err != nil {
		return fmt.Errorf("eventbus: kafka send %s: %w", key, err)
	}
	p.log.Debug("event mirrored", "topic", p.topic, "key", key, "partition", res.Partition, "offset", res.Offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
