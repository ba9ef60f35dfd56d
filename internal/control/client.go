package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/delaycam/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Publisher is the subset of mqtt.Client the control plane publishes with.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Client owns the broker connection shared by the command handler and the
// status emitter.
type Client struct {
	cfg    config.MQTTConfig
	Client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	connected bool
}

// ClientStats contains connection state and per-topic publish counts.
type ClientStats struct {
	Connected bool
	Published map[string]uint64
}

// NewClient creates an unconnected client.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// BrokerURL adds the tcp:// scheme when the broker address has none.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. paho reconnects on its own
// after the first successful connect.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(c.cfg.Broker))
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		slog.Info("control: mqtt connection established",
			"broker", c.cfg.Broker,
			"client_id", c.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		slog.Warn("control: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", c.cfg.Broker)
	}

	c.Client = mqtt.NewClient(opts)

	slog.Info("control: connecting to mqtt broker", "broker", c.cfg.Broker)

	token := c.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("control: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: mqtt connection failed: %w", err)
	}

	c.setConnected(true)
	return nil
}

// Publish sends payload to topic and counts it per topic.
func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published[topic]++
	c.mu.Unlock()
	return c.Client.Publish(topic, qos, retained, payload)
}

// Subscribe implements Broker.
func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return c.Client.Subscribe(topic, qos, callback)
}

// Unsubscribe implements Broker.
func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	return c.Client.Unsubscribe(topics...)
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	if c.Client != nil && c.Client.IsConnected() {
		c.Client.Disconnect(250)
		slog.Info("control: mqtt disconnected")
	}
	c.setConnected(false)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns publish counters.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	published := make(map[string]uint64, len(c.published))
	for k, v := range c.published {
		published[k] = v
	}
	return ClientStats{
		Connected: c.connected,
		Published: published,
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func publishWait(p Publisher, topic string, qos byte, payload []byte) error {
	token := p.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("control: publish to %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: publish to %s: %w", topic, err)
	}
	return nil
}
