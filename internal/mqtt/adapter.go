// Package mqtt wraps the paho MQTT client as the transport adapter.
// The adapter owns reconnection: paho retries with its own backoff and
// re-fires the OnConnect handler on every resumed session, which the
// session controller observes as a "transport.connected" bus event.
// Network failures never surface synchronously; they are logged and the
// affected message stays eligible for the next resend sweep.
package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/config"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Adapter wraps an MQTT session keyed by the local identity id.
type Adapter struct {
	client pahomqtt.Client
	bus    *bus.Bus
	logger *zap.Logger
}

// NewAdapter builds the MQTT client for the given identity. The
// identity id doubles as the broker client handle, so one identity can
// hold at most one live session (the broker evicts the older one).
func NewAdapter(cfg *config.Config, identityID string, b *bus.Bus, logger *zap.Logger) *Adapter {
	a := &Adapter{bus: b, logger: logger}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(identityID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(false)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("broker session established", zap.String("broker", cfg.BrokerURL))
		b.Publish(bus.Event{Kind: "transport.connected", Timestamp: time.Now()})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("broker session lost", zap.Error(err))
		b.Publish(bus.Event{Kind: "transport.disconnected", Timestamp: time.Now(), Payload: err})
	})

	a.client = pahomqtt.NewClient(opts)
	return a
}

// Connect initiates the broker session. With connect-retry enabled the
// attempt keeps going in the background; success and later reconnects
// are reported through the OnConnect handler, never as a return value.
func (a *Adapter) Connect() {
	token := a.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			a.logger.Warn("broker connect failed", zap.Error(err))
		}
	}()
}

// Connected reports whether the session is currently usable.
func (a *Adapter) Connected() bool {
	return a.client.IsConnectionOpen()
}

// Subscribe registers the handler for a topic at QoS 1 (at-least-once).
func (a *Adapter) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	token := a.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends a payload at QoS 1. With retain set, the broker stores
// the payload and replays it to any future subscriber immediately.
func (a *Adapter) Publish(topic string, payload []byte, retain bool) error {
	token := a.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Disconnect performs a best-effort graceful teardown, allowing a short
// quiesce for in-flight publishes (the retained offline presence).
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from broker")
	a.client.Disconnect(250)
}
