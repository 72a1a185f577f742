package util

import (
	"encoding/json"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type HAAvailability struct {
	Topic               string `json:"topic"`                 // : "lighting_zone/online"
	PayloadAvailable    string `json:"payload_available"`     // : "online"
	PayloadNotAvailable string `json:"payload_not_available"` // : "offline"
}

type HADeviceSpec struct {
	Name         string   `json:"name"` // : "Lighting Zone Kitchen"
	Identifiers  []string `json:"ids"`  // : ["kitchen_zone"]
	Model        string   `json:"mdl,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
}

type HAAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	Availability        []HAAvailability `json:"availability"`
	AvailabilityMode    string           `json:"availability_mode,omitempty"` // "all"
	Device              HADeviceSpec     `json:"device"`
	UniqueID            string           `json:"uniq_id"`
	Name                string           `json:"name"`
	StateTopic          string           `json:"state_topic,omitempty"`
	JsonAttributesTopic string           `json:"json_attributes_topic,omitempty"`
	CommandTopic        string           `json:"command_topic,omitempty"`
	CommandTemplate     string           `json:"command_template,omitempty"`
	PayloadOn           string           `json:"payload_on,omitempty"`
	PayloadOff          string           `json:"payload_off,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"` // : "light"
	Platform            string           `json:"platform"`               // "binary_sensor"
	Min                 *int             `json:"min,omitempty"`
	Max                 *int             `json:"max,omitempty"`
	Unit                string           `json:"unit_of_measurement,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	Qos                 int              `json:"qos"`
}

func (ha HAAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HAAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

func zoneAvailability(zone Zone) []HAAvailability {
	return []HAAvailability{
		{
			Topic:               BridgeAvailabilityTopic(),
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
		},
		{
			Topic:               zone.AvailabilityTopic(),
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
		},
	}
}

func zoneDevice(zone Zone) HADeviceSpec {
	return HADeviceSpec{
		Name:         "Lighting Zone " + zone.Name,
		Identifiers:  []string{zone.ID()},
		Model:        "lighting_zone",
		Manufacturer: "lighting_zone",
	}
}

// ConstructHAAdvertisement describes the zone's on/off binary sensor.
func ConstructHAAdvertisement(zone Zone) HAAdvertisement {
	return HAAdvertisement{
		Name:                zone.Name,
		StateTopic:          zone.StateTopic(),
		JsonAttributesTopic: zone.AttributesTopic(),
		PayloadOn:           "ON",
		PayloadOff:          "OFF",
		Availability:        zoneAvailability(zone),
		AvailabilityMode:    "all",
		Qos:                 0,
		UniqueID:            zone.ID(),
		DeviceClass:         "light",
		Platform:            "binary_sensor",
		Device:              zoneDevice(zone),
	}
}

// ConstructBrightnessAdvertisement describes a 0-100 number entity that dims the
// whole zone through the absolute dim topic.
func ConstructBrightnessAdvertisement(zone Zone) HAAdvertisement {
	lo, hi := 0, 100
	return HAAdvertisement{
		Name:             zone.Name + " brightness",
		CommandTopic:     zone.DimAbsoluteTopic(),
		CommandTemplate:  `{"brightness_pct": {{ value | int }}}`,
		Availability:     zoneAvailability(zone),
		AvailabilityMode: "all",
		Qos:              0,
		UniqueID:         zone.ID() + "_brightness",
		Platform:         "number",
		Min:              &lo,
		Max:              &hi,
		Unit:             "%",
		Icon:             "mdi:brightness-percent",
		Device:           zoneDevice(zone),
	}
}

func DiscoveryTopic(component string, zone Zone, object string) string {
	return Config.GetString("discovery_prefix") + "/" + component + "/" + zone.Slug() + "/" + object + "/config"
}

func AdvertiseHA(zones []Zone, client MQTT.Client) {
	for _, zone := range zones {
		sensor := ConstructHAAdvertisement(zone)
		if token := client.Publish(DiscoveryTopic("binary_sensor", zone, "zone"), 0, false, sensor.ToJson()); token.Wait() && token.Error() != nil {
			Logger.Error().Err(token.Error()).Str("zone", zone.Name).Msg("Error Publishing zone discovery")
		}
		brightness := ConstructBrightnessAdvertisement(zone)
		if token := client.Publish(DiscoveryTopic("number", zone, "brightness"), 0, false, brightness.ToJson()); token.Wait() && token.Error() != nil {
			Logger.Error().Err(token.Error()).Str("zone", zone.Name).Msg("Error Publishing brightness discovery")
		}
	}
}

// RetractHA removes the discovery entries of zones that are no longer configured.
func RetractHA(zones []Zone, client MQTT.Client) {
	for _, zone := range zones {
		for _, topic := range []string{DiscoveryTopic("binary_sensor", zone, "zone"), DiscoveryTopic("number", zone, "brightness")} {
			if token := client.Publish(topic, 0, true, ""); token.Wait() && token.Error() != nil {
				Logger.Error().Err(token.Error()).Str("zone", zone.Name).Msg("Error retracting discovery")
			}
		}
	}
}
