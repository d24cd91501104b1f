package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agriagent/agriagent/internal/config"
	"github.com/agriagent/agriagent/internal/farmcard"
)

type fakeConn struct {
	published    []*paho.Publish
	err          error
	disconnected bool
}

func (f *fakeConn) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.published = append(f.published, p)
	if f.err != nil {
		return nil, f.err
	}
	return &paho.PublishResponse{}, nil
}

func (f *fakeConn) Disconnect(context.Context) error {
	f.disconnected = true
	return nil
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "shamba",
		TopicPrefix:     "agriagent",
		DiscoveryPrefix: "homeassistant",
	}
}

func newTestPublisher(cfg config.MQTTConfig) *Publisher {
	return New(cfg, slog.New(slog.DiscardHandler))
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("shamba")
	assert.Equal(t, "shamba", info.Name)
	assert.Equal(t, []string{"agriagent_shamba"}, info.Identifiers)
	assert.Equal(t, "AgriAgent", info.Manufacturer)
	assert.NotEmpty(t, info.SWVersion)
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := newTestPublisher(testConfig())

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "agriagent/shamba"},
		{"availabilityTopic", p.availabilityTopic(), "agriagent/shamba/availability"},
		{"cardTopic", p.cardTopic(), "agriagent/shamba/farm_card/state"},
		{"discoveryTopic", p.discoveryTopic("sensor", "top_action"), "homeassistant/sensor/shamba/top_action/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := newTestPublisher(cfg)

	defs := p.sensorDefinitions()
	require.Len(t, defs, 4)

	for _, d := range defs {
		assert.NotContains(t, d.config.Name, cfg.DeviceName, "sensor %s name must be relative to the device", d.entitySuffix)
		assert.Equal(t, d.entitySuffix, d.config.ObjectID)
		assert.True(t, d.config.HasEntityName)
		assert.Equal(t, "agriagent/shamba/farm_card/state", d.config.StateTopic)
		assert.Equal(t, "agriagent/shamba/availability", d.config.AvailabilityTopic)
		assert.True(t, strings.HasPrefix(d.config.UniqueID, "agriagent_shamba_"))
		assert.True(t, strings.HasPrefix(d.config.ValueTemplate, "{{ value_json."))
	}
	assert.Equal(t, "top_action", defs[0].entitySuffix)
	assert.Equal(t, p.cardTopic(), defs[0].config.JsonAttributesTopic)
	assert.Equal(t, "%", defs[1].config.UnitOfMeasurement)
}

func TestPublishCard_NotConnected(t *testing.T) {
	p := newTestPublisher(testConfig())
	err := p.PublishCard(t.Context(), farmcard.Card{Location: "Nairobi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishCard_Retained(t *testing.T) {
	p := newTestPublisher(testConfig())
	conn := &fakeConn{}
	p.setConn(conn)

	card := farmcard.Card{
		Date:            "2026-03-14",
		Location:        "Nairobi",
		WeatherSummary:  "28°C, Sunny. Rain expected in 2 days.",
		WeatherIcon:     "sunny",
		MarketTrend:     "Maize is up at 46.1 KES.",
		TopAction:       "Inspect crops for pests.",
		CropHealthScore: 81,
	}
	require.NoError(t, p.PublishCard(t.Context(), card))

	require.Len(t, conn.published, 1)
	msg := conn.published[0]
	assert.Equal(t, "agriagent/shamba/farm_card/state", msg.Topic)
	assert.True(t, msg.Retain)
	assert.Equal(t, byte(1), msg.QoS)

	var got farmcard.Card
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, card, got)
}

func TestPublishCard_Error(t *testing.T) {
	p := newTestPublisher(testConfig())
	p.setConn(&fakeConn{err: errors.New("connection lost")})

	err := p.PublishCard(t.Context(), farmcard.Card{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestPublishDiscovery(t *testing.T) {
	p := newTestPublisher(testConfig())
	conn := &fakeConn{}

	p.publishDiscovery(t.Context(), conn)
	require.Len(t, conn.published, 4)
	assert.Equal(t, "homeassistant/sensor/shamba/top_action/config", conn.published[0].Topic)

	var cfg SensorConfig
	require.NoError(t, json.Unmarshal(conn.published[0].Payload, &cfg))
	assert.Equal(t, "Top Action", cfg.Name)
}

func TestPublishDiscovery_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.DiscoveryPrefix = ""
	p := newTestPublisher(cfg)
	conn := &fakeConn{}

	p.publishDiscovery(t.Context(), conn)
	assert.Empty(t, conn.published)
}

func TestStop(t *testing.T) {
	p := newTestPublisher(testConfig())
	require.NoError(t, p.Stop(t.Context()), "stop before start is a no-op")

	conn := &fakeConn{}
	p.setConn(conn)
	require.NoError(t, p.Stop(t.Context()))

	require.Len(t, conn.published, 1)
	assert.Equal(t, "agriagent/shamba/availability", conn.published[0].Topic)
	assert.Equal(t, "offline", string(conn.published[0].Payload))
	assert.True(t, conn.disconnected)
}
