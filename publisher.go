package energylens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
)

// PublishConfig configures the message-bus publishers.
type PublishConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// RunMessage is the bus payload of a completed analysis.
type RunMessage struct {
	RunID           string                 `json:"run_id"`
	CreatedAt       time.Time              `json:"created_at"`
	Summary         Summary                `json:"summary"`
	AnomalyRows     []int                  `json:"anomaly_rows"`
	Report          []ApplianceReportEntry `json:"report"`
	Recommendations []string               `json:"recommendations"`
}

func newRunMessage(run *Analysis) RunMessage {
	return RunMessage{
		RunID:           run.RunID,
		CreatedAt:       run.CreatedAt,
		Summary:         run.Summary,
		AnomalyRows:     run.AnomalyRows,
		Report:          run.Report,
		Recommendations: run.Recommendations,
	}
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per run, keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

// NewKafkaPublisher creates a synchronous writer on cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		cfg.Topic = "energylens.runs"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		Async:        false,
	}
	return newKafkaPublisher(w, cfg.Topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		log:    slog.Default().With(slog.String("component", "kafka-publisher")),
	}
}

// Name implements ResultSink.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Deliver implements ResultSink.
func (p *KafkaPublisher) Deliver(ctx context.Context, run *Analysis) error {
	value, err := json.Marshal(newRunMessage(run))
	if err != nil {
		return fmt.Errorf("failed to encode run message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(run.RunID),
		Value: value,
		Time:  run.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	p.log.Debug("published run", "topic", p.topic, "run_id", run.RunID)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MQTTPublisher publishes the run summary, each appliance entry and the
// anomaly rows under a topic prefix.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// NewMQTTPublisher connects to cfg.Broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt publisher requires a broker")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "energylens"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "energylens"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	slog.Info("connected to mqtt broker", "broker", cfg.Broker)
	return &MQTTPublisher{client: client, cfg: cfg}, nil
}

// Name implements ResultSink.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Deliver implements ResultSink.
func (p *MQTTPublisher) Deliver(ctx context.Context, run *Analysis) error {
	msgs, err := mqttMessages(p.cfg.TopicPrefix, run)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		token := p.client.Publish(m.topic, p.cfg.QoS, p.cfg.Retain, m.payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

type mqttMessage struct {
	topic   string
	payload []byte
}

func mqttMessages(prefix string, run *Analysis) ([]mqttMessage, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	var msgs []mqttMessage
	add := func(topic string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", topic, err)
		}
		msgs = append(msgs, mqttMessage{topic: prefix + "/" + topic, payload: data})
		return nil
	}

	if err := add("summary", struct {
		RunID string `json:"run_id"`
		Summary
	}{run.RunID, run.Summary}); err != nil {
		return nil, err
	}
	for _, e := range run.Report {
		slug := strings.ReplaceAll(strings.ToLower(e.Appliance), " ", "_")
		if err := add("appliance/"+slug, e); err != nil {
			return nil, err
		}
	}
	if err := add("anomalies", run.AnomalyRows); err != nil {
		return nil, err
	}
	return msgs, nil
}
