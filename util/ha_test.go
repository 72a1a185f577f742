package util

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func testZone() Zone {
	return Zone{
		Name:     "Kitchen",
		UniqueID: "kitchen_zone",
		Members:  []Member{{EntityID: "light.kitchen_ceiling"}, {EntityID: "light.kitchen_island"}},
	}
}

func TestConstructHAAdvertisement(t *testing.T) {
	setTopicConfig()
	advertisement := ConstructHAAdvertisement(testZone())

	if advertisement.Name != "Kitchen" {
		t.Errorf("Name = %s, expected Kitchen", advertisement.Name)
	}
	if advertisement.StateTopic != "lighting_zone/kitchen/state" {
		t.Errorf("StateTopic = %s", advertisement.StateTopic)
	}
	if advertisement.JsonAttributesTopic != "lighting_zone/kitchen/attributes" {
		t.Errorf("JsonAttributesTopic = %s", advertisement.JsonAttributesTopic)
	}
	if advertisement.PayloadOn != "ON" || advertisement.PayloadOff != "OFF" {
		t.Errorf("payloads = %s/%s, expected ON/OFF", advertisement.PayloadOn, advertisement.PayloadOff)
	}
	if advertisement.DeviceClass != "light" {
		t.Errorf("DeviceClass = %s, expected 'light'", advertisement.DeviceClass)
	}
	if advertisement.Platform != "binary_sensor" {
		t.Errorf("Platform = %s, expected 'binary_sensor'", advertisement.Platform)
	}
	if advertisement.UniqueID != "kitchen_zone" {
		t.Errorf("UniqueID = %s, expected kitchen_zone", advertisement.UniqueID)
	}
	if advertisement.AvailabilityMode != "all" {
		t.Errorf("AvailabilityMode = %s, expected all", advertisement.AvailabilityMode)
	}

	if len(advertisement.Availability) != 2 {
		t.Fatalf("Expected 2 availability items, got %d", len(advertisement.Availability))
	}
	if advertisement.Availability[0].Topic != "lighting_zone/online" {
		t.Errorf("bridge availability topic = %s", advertisement.Availability[0].Topic)
	}
	if advertisement.Availability[1].Topic != "lighting_zone/kitchen/availability" {
		t.Errorf("zone availability topic = %s", advertisement.Availability[1].Topic)
	}

	if len(advertisement.Device.Identifiers) != 1 || advertisement.Device.Identifiers[0] != "kitchen_zone" {
		t.Errorf("Device identifiers = %v, expected [kitchen_zone]", advertisement.Device.Identifiers)
	}
}

func TestConstructBrightnessAdvertisement(t *testing.T) {
	setTopicConfig()
	advertisement := ConstructBrightnessAdvertisement(testZone())

	if advertisement.Platform != "number" {
		t.Errorf("Platform = %s, expected number", advertisement.Platform)
	}
	if advertisement.CommandTopic != "lighting_zone/kitchen/dim_absolute" {
		t.Errorf("CommandTopic = %s", advertisement.CommandTopic)
	}
	if advertisement.UniqueID != "kitchen_zone_brightness" {
		t.Errorf("UniqueID = %s", advertisement.UniqueID)
	}
	if advertisement.Min == nil || *advertisement.Min != 0 || advertisement.Max == nil || *advertisement.Max != 100 {
		t.Errorf("range = %v..%v, expected 0..100", advertisement.Min, advertisement.Max)
	}

	body := advertisement.ToJson()
	if gjson.Get(body, "state_topic").Exists() {
		t.Error("number advertisement should not carry a state_topic")
	}
	if gjson.Get(body, "min").Int() != 0 || gjson.Get(body, "max").Int() != 100 {
		t.Errorf("min/max not serialized: %s", body)
	}
}

func TestHAAdvertisement_ToJson(t *testing.T) {
	setTopicConfig()
	advertisement := ConstructHAAdvertisement(testZone())

	jsonStr := advertisement.ToJson()
	if jsonStr == "" {
		t.Fatal("ToJson() should not return empty string")
	}

	var unmarshaled HAAdvertisement
	if err := json.Unmarshal([]byte(jsonStr), &unmarshaled); err != nil {
		t.Errorf("ToJson() produced invalid JSON: %v", err)
	}

	for key, want := range map[string]string{
		"uniq_id":               "kitchen_zone",
		"platform":              "binary_sensor",
		"json_attributes_topic": "lighting_zone/kitchen/attributes",
		"availability.1.topic":  "lighting_zone/kitchen/availability",
		"device.ids.0":          "kitchen_zone",
	} {
		if got := gjson.Get(jsonStr, key).String(); got != want {
			t.Errorf("%s = %q, expected %q", key, got, want)
		}
	}
	if gjson.Get(jsonStr, "command_topic").Exists() {
		t.Error("binary sensor advertisement should omit command_topic")
	}
}

func TestAdvertiseHA(t *testing.T) {
	setTopicConfig()
	Config.Set("discovery_prefix", "homeassistant")
	mockClient := &MockMQTTClient{}

	AdvertiseHA([]Zone{testZone()}, mockClient)

	calls := mockClient.published()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 discovery messages, got %d", len(calls))
	}
	if calls[0].Topic != "homeassistant/binary_sensor/kitchen/zone/config" {
		t.Errorf("sensor discovery topic = %s", calls[0].Topic)
	}
	if calls[1].Topic != "homeassistant/number/kitchen/brightness/config" {
		t.Errorf("brightness discovery topic = %s", calls[1].Topic)
	}
}

func TestRetractHA(t *testing.T) {
	setTopicConfig()
	Config.Set("discovery_prefix", "homeassistant")
	mockClient := &MockMQTTClient{}

	RetractHA([]Zone{testZone()}, mockClient)

	for _, call := range mockClient.published() {
		if call.Payload != "" || !call.Retained {
			t.Errorf("retraction should be an empty retained message, got %+v", call)
		}
	}
	if len(mockClient.published()) != 2 {
		t.Errorf("Expected 2 retractions, got %d", len(mockClient.published()))
	}
}
