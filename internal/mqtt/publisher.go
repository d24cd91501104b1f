package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/agriagent/agriagent/internal/config"
	"github.com/agriagent/agriagent/internal/farmcard"
)

// ErrNotConnected is returned by PublishCard before Start has
// established a broker connection.
var ErrNotConnected = errors.New("mqtt publisher not connected")

// connection is the subset of autopaho.ConnectionManager the publisher
// uses after connecting.
type connection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
}

// Publisher manages the MQTT connection and publishes farm cards.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	logger *slog.Logger

	mu   sync.RWMutex
	conn connection
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.DeviceName),
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the MQTT broker and blocks until ctx is cancelled.
// On every (re-)connect it publishes discovery configs and a birth
// message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "agriagent-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConn(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection. ctx bounds how long to wait.
func (p *Publisher) Stop(ctx context.Context) error {
	conn := p.connection()
	if conn == nil {
		return nil
	}
	p.publishAvailability(ctx, conn, "offline")
	return conn.Disconnect(ctx)
}

func (p *Publisher) setConn(c connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = c
}

func (p *Publisher) connection() connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

// PublishCard publishes card as retained JSON on the card state topic.
// It implements farmcard.Sink.
func (p *Publisher) PublishCard(ctx context.Context, card farmcard.Card) error {
	conn := p.connection()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal farm card: %w", err)
	}
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   p.cardTopic(),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		return fmt.Errorf("publish farm card: %w", err)
	}
	p.logger.Debug("farm card published", "topic", p.cardTopic(), "location", card.Location)
	return nil
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) cardTopic() string {
	return p.baseTopic() + "/farm_card/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

// sensorDefinitions describe HA sensors that read fields of the card
// payload. The full card is exposed as attributes of the top action.
func (p *Publisher) sensorDefinitions() []sensorDef {
	sensor := func(suffix, name, icon, template string) sensorDef {
		return sensorDef{
			entitySuffix: suffix,
			config: SensorConfig{
				Name:              name,
				ObjectID:          suffix,
				HasEntityName:     true,
				UniqueID:          p.device.Identifiers[0] + "_" + suffix,
				StateTopic:        p.cardTopic(),
				AvailabilityTopic: p.availabilityTopic(),
				Device:            p.device,
				Icon:              icon,
				ValueTemplate:     template,
			},
		}
	}

	top := sensor("top_action", "Top Action", "mdi:sprout", "{{ value_json.top_action }}")
	top.config.JsonAttributesTopic = p.cardTopic()

	health := sensor("crop_health", "Crop Health", "mdi:leaf", "{{ value_json.crop_health_score }}")
	health.config.UnitOfMeasurement = "%"
	health.config.StateClass = "measurement"

	return []sensorDef{
		top,
		health,
		sensor("weather_summary", "Weather", "mdi:weather-partly-cloudy", "{{ value_json.weather_summary }}"),
		sensor("market_trend", "Market", "mdi:chart-line", "{{ value_json.market_trend }}"),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, conn connection) {
	if p.cfg.DiscoveryPrefix == "" {
		return
	}
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := conn.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, conn connection, status string) {
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
