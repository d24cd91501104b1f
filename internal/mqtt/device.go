package mqtt

import "github.com/agriagent/agriagent/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared
// across all discovery payloads so HA groups the card sensors under a
// single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message.
type SensorConfig struct {
	Name                string     `json:"name"`
	ObjectID            string     `json:"object_id,omitempty"`
	HasEntityName       bool       `json:"has_entity_name,omitempty"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JsonAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	Device              DeviceInfo `json:"device"`
	Icon                string     `json:"icon,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	ValueTemplate       string     `json:"value_template,omitempty"`
}

// NewDeviceInfo creates the device block for deviceName. The device
// name doubles as the identifier.
func NewDeviceInfo(deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{"agriagent_" + deviceName},
		Name:         deviceName,
		Manufacturer: "AgriAgent",
		Model:        "Farm Card Broadcaster",
		SWVersion:    buildinfo.Version,
	}
}
