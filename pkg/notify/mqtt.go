// Package notify publishes panel events to an MQTT broker, so home
// automation setups can follow the fan without polling the panel.
package notify

import (
	"encoding/json"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const publishTimeout = 5 * time.Second

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each event, retained, to <prefix>/<event type>. Publish
// never waits for the broker; delivery failures are reported asynchronously.
type MQTT struct {
	prefix string
	client publisher
	report func(error)
}

// Connect dials the broker and returns a ready MQTT publisher.
func Connect(broker, clientID, user, password, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectRetry(true)
	opts.SetUsername(user)
	opts.SetPassword(password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Infof("Connected to MQTT broker %s", broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		logger.Warningf("MQTT broker %s not reachable yet, retrying in background", broker)
	} else if token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect MQTT client")
	}

	return NewMQTT(client, prefix), nil
}

func NewMQTT(client publisher, prefix string) *MQTT {
	return &MQTT{
		prefix: prefix,
		client: client,
		report: func(err error) {
			logger.Error(err)
		},
	}
}

func (m *MQTT) Topic(eventType string) string {
	return m.prefix + "/" + eventType
}

func (m *MQTT) Publish(event *fanpanel.Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	topic := m.Topic(event.Type)
	token := m.client.Publish(topic, 1, true, b)

	go func() {
		if !token.WaitTimeout(publishTimeout) {
			m.report(errors.Errorf("timed out publishing to %s", topic))
			return
		}
		if err := token.Error(); err != nil {
			m.report(errors.Wrapf(err, "failed to publish to %s", topic))
		}
	}()

	return nil
}
