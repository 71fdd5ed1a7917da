package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
)

const (
	connectTimeout    = 30 * time.Second
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// mqttPublisher is a Publisher backed by a paho client.
type mqttPublisher struct {
	client mqtt.Client
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(settings *conf.MQTTSettings, clientID string) (Publisher, error) {
	if settings.ClientID != "" {
		clientID = settings.ClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout to %s", settings.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	return &mqttPublisher{client: client}, nil
}

// Publish sends payload with QoS 1 so the summary survives a broker hiccup.
func (p *mqttPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *mqttPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
}
