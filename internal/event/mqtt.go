package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTClient is the part of mqtt.Client the forwarder uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTOptions configure the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTClient builds an auto-reconnecting paho client.
func NewMQTTClient(o MQTTOptions, logger *zap.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", o.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, reconnecting", zap.String("broker", o.Broker), zap.Error(err))
	}
	return mqtt.NewClient(opts)
}

// MQTTStats counts forwarded messages.
type MQTTStats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTForwarder republishes bus events to an MQTT broker as JSON, one MQTT
// topic per event topic: camera.connected goes to {prefix}/camera/connected.
type MQTTForwarder struct {
	client MQTTClient
	prefix string
	qos    byte
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
	unsub     func()
}

// NewMQTTForwarder creates a forwarder over client.
func NewMQTTForwarder(client MQTTClient, prefix string, qos byte, logger *zap.Logger) *MQTTForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTForwarder{
		client:    client,
		prefix:    strings.Trim(prefix, "/"),
		qos:       qos,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// MQTTTopic maps an event topic onto an MQTT topic under prefix.
func MQTTTopic(prefix, topic string) string {
	t := strings.ReplaceAll(topic, ".", "/")
	if prefix == "" {
		return t
	}
	return prefix + "/" + t
}

// Connect connects the client unless it already is.
func (f *MQTTForwarder) Connect(ctx context.Context) error {
	if f.client.IsConnected() {
		return nil
	}
	tok := f.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttConnectTimeout):
		return errors.New("mqtt connection timeout")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Attach subscribes the forwarder to every topic on bus.
func (f *MQTTForwarder) Attach(bus *Bus) {
	unsub := bus.SubscribeAll(f.Forward)
	f.mu.Lock()
	f.unsub = unsub
	f.mu.Unlock()
}

// Forward publishes one event.
func (f *MQTTForwarder) Forward(_ context.Context, e Event) {
	topic := MQTTTopic(f.prefix, e.Topic)
	payload, err := json.Marshal(e)
	if err != nil {
		f.fail(topic, fmt.Errorf("marshal event: %w", err))
		return
	}

	tok := f.client.Publish(topic, f.qos, false, payload)
	if !tok.WaitTimeout(mqttPublishTimeout) {
		f.fail(topic, errors.New("publish timeout"))
		return
	}
	if err := tok.Error(); err != nil {
		f.fail(topic, err)
		return
	}

	f.mu.Lock()
	f.published[topic]++
	f.mu.Unlock()
	f.logger.Debug("event forwarded", zap.String("topic", topic), zap.Int("size", len(payload)))
}

func (f *MQTTForwarder) fail(topic string, err error) {
	f.mu.Lock()
	f.errors++
	f.mu.Unlock()
	f.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
}

// Stats returns a copy of the counters.
func (f *MQTTForwarder) Stats() MQTTStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	published := make(map[string]uint64, len(f.published))
	for k, v := range f.published {
		published[k] = v
	}
	return MQTTStats{Published: published, Errors: f.errors}
}

// Close detaches from the bus and disconnects.
func (f *MQTTForwarder) Close() {
	f.mu.Lock()
	unsub := f.unsub
	f.unsub = nil
	f.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if f.client.IsConnected() {
		f.client.Disconnect(250)
	}
}
