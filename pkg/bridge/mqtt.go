// Package bridge publishes store change events to an MQTT broker so
// external automation (roof interlocks, alerting) can observe the
// observatory without polling the dashboard.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"alpacadash/pkg/state"
)

// Config holds the broker settings.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TopicRoot string
	QoS       byte
}

// Bridge forwards store events to MQTT topics:
//
//	<root>/<device>/status              connection state
//	<root>/<device>/<property>          property value
type Bridge struct {
	client mqtt.Client
	store  *state.Store
	root   string
	qos    byte
	logger log.FieldLogger
}

func New(cfg Config, store *state.Store, logger log.FieldLogger) (*Bridge, error) {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "alpacadash"
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.SetClientID("alpacadash")
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	logger.Infof("connected to MQTT broker %s:%d", cfg.Host, cfg.Port)

	return &Bridge{
		client: client,
		store:  store,
		root:   cfg.TopicRoot,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

type propertyPayload struct {
	Value       any       `json:"value"`
	Error       string    `json:"error,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	Time        time.Time `json:"time"`
}

// Run consumes store events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	id, events := b.store.Subscribe()
	defer b.store.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.publish(ev)
		}
	}
}

func (b *Bridge) publish(ev state.Event) {
	var topic string
	var payload any

	switch ev.Type {
	case state.EventConnState:
		topic = fmt.Sprintf("%s/%s/status", b.root, ev.Device)
		payload = map[string]any{"state": ev.ConnState.String(), "time": ev.Time}
	case state.EventProperty:
		topic = fmt.Sprintf("%s/%s/%s", b.root, ev.Device, ev.Property)
		payload = propertyPayload{
			Value:       ev.Value,
			Error:       ev.Error,
			Unavailable: ev.Unavailable,
			Time:        ev.Time,
		}
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Errorf("marshaling %s: %v", topic, err)
		return
	}
	if token := b.client.Publish(topic, b.qos, true, data); token.Wait() && token.Error() != nil {
		b.logger.Warnf("publishing %s: %v", topic, token.Error())
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(100)
}
