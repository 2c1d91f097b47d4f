// Package mqttbridge runs the MQTT event forwarder as a plugin so camera
// events reach an external broker.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/plugin"
)

// Name is the plugin name and route prefix.
const Name = "mqtt"

var _ plugin.Plugin = (*Bridge)(nil)

// Bridge forwards every bus event to the broker behind client.
type Bridge struct {
	client    event.MQTTClient
	forwarder *event.MQTTForwarder
	bus       *event.Bus
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// New creates a bridge. Nothing is connected until Start.
func New(client event.MQTTClient, bus *event.Bus, prefix string, qos byte, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(Name)
	return &Bridge{
		client:    client,
		forwarder: event.NewMQTTForwarder(client, prefix, qos, logger),
		bus:       bus,
		logger:    logger,
	}
}

func (b *Bridge) Name() string { return Name }

// Start subscribes to the bus and connects in the background. Events
// published before the connection is up count as errors.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("mqtt bridge already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	b.forwarder.Attach(b.bus)
	go func() {
		defer close(b.done)
		err := b.forwarder.Connect(ctx)
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
		if err != nil {
			b.logger.Warn("mqtt connect failed", zap.Error(err))
			return
		}
		b.logger.Info("mqtt bridge connected")
	}()
	return nil
}

// Stop detaches from the bus and disconnects.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	b.forwarder.Close()
	return nil
}

// Status summarizes the connection and forwarding counters.
type Status struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	LastError string            `json:"last_error,omitempty"`
}

// Status returns the current bridge status.
func (b *Bridge) Status() Status {
	stats := b.forwarder.Stats()
	st := Status{
		Connected: b.client.IsConnected(),
		Published: stats.Published,
		Errors:    stats.Errors,
	}
	b.mu.Lock()
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	b.mu.Unlock()
	return st
}

func (b *Bridge) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/status", Handler: b.handleStatus},
	}
}

func (b *Bridge) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b.Status())
}
