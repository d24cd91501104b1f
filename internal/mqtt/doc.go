// Package mqtt broadcasts each generated farm card to an MQTT broker so
// dashboards and field displays can show today's card without polling
// the API.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Cards are
// published retained to <topic_prefix>/<device_name>/farm_card/state.
// On every (re-)connect it publishes Home Assistant discovery configs
// for the card sensors and a birth message ("online") to the
// availability topic. A will message moves availability to "offline"
// on unexpected disconnects.
package mqtt
