// Package publish sends decoded fixes to an MQTT broker as JSON.
package publish

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/config"
	"github.com/samiam2013/gnssfix/common/nmea"
)

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON payload of one fix.
type Message struct {
	nmea.PositionFix
	Kind      string  `json:"kind"`
	TimeOfDay string  `json:"time_of_day"`
	Received  int64   `json:"received_unix_micro"`
	Session   string  `json:"session,omitempty"`
	Quality   string  `json:"quality"`
	Ellipsoid float64 `json:"ellipsoid_altitude"`
}

type Publisher struct {
	client  Client
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
	log     *logrus.Entry
}

func New(client Client, cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: 5 * time.Second,
		log:     logrus.WithField("topic", cfg.Topic),
	}
}

// Connect dials the configured broker.
func Connect(cfg config.MQTTConfig) (*Publisher, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.WithError(err).Warn("MQTT connection lost")
		})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, errors.Wrapf(token.Error(), "connect %s", cfg.Broker)
	}
	logrus.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	return New(client, cfg), client, nil
}

func NewMessage(fix nmea.PositionFix, session string, at time.Time) Message {
	return Message{
		PositionFix: fix,
		Kind:        fix.Kind().String(),
		TimeOfDay:   fix.TimeOfDay().String(),
		Received:    at.UnixMicro(),
		Session:     session,
		Quality:     fix.Fix.String(),
		Ellipsoid:   fix.Altitude + fix.GeoidHeight,
	}
}

// Publish sends one fix and waits for the broker to accept it.
func (p *Publisher) Publish(fix nmea.PositionFix, session string, at time.Time) error {
	payload, err := json.Marshal(NewMessage(fix, session, at))
	if err != nil {
		return errors.Wrap(err, "marshal fix")
	}
	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(p.timeout) {
		return errors.Errorf("publish to %s timed out after %s", p.topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", p.topic)
	}
	p.log.WithField("bytes", len(payload)).Debug("Published fix")
	return nil
}
