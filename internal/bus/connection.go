package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config describes how to reach the local broker and which session
// semantics to use. init-session uses a persistent, non-clean session so
// the broker retains the subscription across the short-lived CLI
// process; clear-session connects with a clean session to drop it.
type Config struct {
	Host            string
	Port            int
	ClientID        string
	CleanSession    bool
	MaxPacketSizeKB int
	// UseWebsocket routes the connection through a ws:// URL instead of
	// tcp://, for constrained networks where only 443 is open. Backed by
	// gorilla/websocket through paho's built-in websocket dialer.
	UseWebsocket bool
	Username     string
	Password     string
}

func (c Config) brokerURI() string {
	scheme := "tcp"
	if c.UseWebsocket {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Connection is a live bus session: an inbound channel of received
// messages, an outbound Publish method, and a channel of transport errors
// that the caller is expected to drain (the mapper loop selects on it in
// runSyncWindow and runForever).
type Connection struct {
	client   mqtt.Client
	Received <-chan Message
	Errors   <-chan error

	received chan Message
	errors   chan error
	log      *zap.Logger
}

// Connect dials the broker, subscribes to filter, and returns a live
// Connection. The returned connection must be closed by the caller via
// Disconnect when the process shuts down.
func Connect(cfg Config, filter TopicFilter, log *zap.Logger) (*Connection, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.brokerURI())
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	if cfg.MaxPacketSizeKB > 0 {
		// paho has no direct max-packet-size knob pre-v5; when a limit is
		// configured only a 10s write timeout is applied, and the packet
		// size itself is not limited.
		opts.SetWriteTimeout(10 * time.Second)
	}

	conn := &Connection{
		received: make(chan Message, 256),
		errors:   make(chan error, 16),
		log:      log,
	}
	conn.Received = conn.received
	conn.Errors = conn.errors

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		select {
		case conn.errors <- fmt.Errorf("bus: connection lost: %w", err):
		default:
		}
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("bus: connect: %w", token.Error())
	}
	conn.client = client

	for _, pattern := range filter.Patterns() {
		pattern := pattern
		token := client.Subscribe(pattern, 1, func(_ mqtt.Client, m mqtt.Message) {
			conn.received <- Message{
				Topic:   m.Topic(),
				Payload: m.Payload(),
				Retain:  m.Retained(),
			}
		})
		if token.Wait() && token.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("bus: subscribe %q: %w", pattern, token.Error())
		}
	}

	return conn, nil
}

// Publish sends a message, blocking until the broker has acknowledged it
// (QoS 1), so that outputs for a single inbound message are published in
// order before the next message is processed.
func (c *Connection) Publish(m Message) error {
	token := c.client.Publish(m.Topic, 1, m.Retain, m.Payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus: publish %q: %w", m.Topic, err)
	}
	return nil
}

// Disconnect closes the underlying client connection gracefully.
func (c *Connection) Disconnect() {
	c.client.Disconnect(250)
}

// InitSession connects with a persistent (non-clean) session, subscribes
// to filter so the broker begins queueing messages for this client id,
// then disconnects — leaving the subscription registered broker-side for
// a later `start` to pick back up.
func InitSession(cfg Config, filter TopicFilter, log *zap.Logger) error {
	cfg.CleanSession = false
	conn, err := Connect(cfg, filter, log)
	if err != nil {
		return err
	}
	conn.Disconnect()
	return nil
}

// ClearSession connects with a clean session against the same client id,
// which instructs the broker to drop any session state (including queued
// messages and the subscription) left by a prior InitSession.
func ClearSession(cfg Config, filter TopicFilter, log *zap.Logger) error {
	cfg.CleanSession = true
	conn, err := Connect(cfg, filter, log)
	if err != nil {
		return err
	}
	conn.Disconnect()
	return nil
}
