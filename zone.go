package main

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/lighting_zone/state"
	. "github.com/elijahnyp/lighting_zone/util"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrUnknownZone = errors.New("unknown zone")

// StateUpdate is one member state notification. All asks for every zone to be
// recomputed, which is what happens at startup.
type StateUpdate struct {
	EntityID string
	Value    string
	Present  bool
	All      bool
}

type DimItem struct {
	Zone    string
	Request state.DimRequest
	Result  chan error // optional, buffered
}

var (
	model   Model
	modelMu sync.RWMutex

	member_store = state.NewStore(0)

	dispatcher   state.Dispatcher
	dispatcherMu sync.RWMutex

	zone_status    = make(map[string]state.ZoneState)
	zone_status_mu sync.RWMutex

	poller StatePoller
)

// channels
var state_channel = make(chan StateUpdate, 100)
var dim_channel = make(chan DimItem, 10)

func currentModel() Model {
	modelMu.RLock()
	defer modelMu.RUnlock()
	return model
}

func setModel(next Model) Model {
	modelMu.Lock()
	defer modelMu.Unlock()
	previous := model
	model = next
	return previous
}

func currentDispatcher() state.Dispatcher {
	dispatcherMu.RLock()
	defer dispatcherMu.RUnlock()
	return dispatcher
}

func setDispatcher(d state.Dispatcher) {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	dispatcher = d
}

func ZoneStatus(name string) (state.ZoneState, bool) {
	zone_status_mu.RLock()
	defer zone_status_mu.RUnlock()
	zs, ok := zone_status[name]
	return zs, ok
}

/* ***************************************
Zone state
*/

// ZoneManagerRoutine is the only writer of member and zone state.
func ZoneManagerRoutine() {
	for item := range state_channel {
		processStateUpdate(item)
	}
}

func processStateUpdate(item StateUpdate) {
	m := currentModel()
	zones := m.Zones
	if !item.All {
		if item.Present {
			member_store.Set(item.EntityID, item.Value)
		} else {
			member_store.Remove(item.EntityID)
		}
		zones = m.ZonesWithMember(item.EntityID)
		Logger.Debug().Str("entity", item.EntityID).Str("state", item.Value).Bool("present", item.Present).Int("zones", len(zones)).Msg("member state")
	}
	for _, z := range zones {
		recomputeZone(z)
	}
}

func recomputeZone(z Zone) state.ZoneState {
	zs := state.Aggregate(z.MemberIDs(), member_store.Get)

	zone_status_mu.Lock()
	zone_status[z.Name] = zs
	zone_status_mu.Unlock()

	Logger.Debug().Str("zone", z.Name).Str("state", zs.Value()).Bool("available", zs.Available).Msg("zone recomputed")
	publishZoneState(z, zs)
	if wsHub != nil {
		wsHub.BroadcastUpdate("zone_status", newWebZoneStatus(z, zs))
	}
	return zs
}

// statePayload maps the zone value onto the binary_sensor payloads; "None"
// resets the sensor to unknown.
func statePayload(zs state.ZoneState) string {
	switch zs.Value() {
	case state.On:
		return "ON"
	case state.Off:
		return "OFF"
	default:
		return "None"
	}
}

func availabilityPayload(zs state.ZoneState) string {
	if zs.Available {
		return "online"
	}
	return "offline"
}

func publishZoneState(z Zone, zs state.ZoneState) {
	if Client == nil {
		return
	}
	attributes, err := json.Marshal(zs.Attributes())
	if err != nil {
		Logger.Error().Err(err).Str("zone", z.Name).Msg("Error marshalling zone attributes")
		return
	}
	messages := []struct {
		topic   string
		payload interface{}
	}{
		{z.AvailabilityTopic(), availabilityPayload(zs)},
		{z.AttributesTopic(), attributes},
		{z.StateTopic(), statePayload(zs)},
	}
	for _, msg := range messages {
		if err := Publish(msg.topic, true, msg.payload); err != nil {
			Logger.Error().Err(err).Str("zone", z.Name).Msg("Error publishing zone state")
		}
	}
}

// parseMemberState reads a member state payload. ok is false when the message
// carries no state at all and should be ignored.
func parseMemberState(payload []byte) (value string, present bool, ok bool) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return "", false, true
	}
	if strings.ToLower(Config.GetString("state_format")) == "json" {
		v := gjson.GetBytes(payload, Config.GetString("state_path"))
		if !v.Exists() {
			return "", false, false
		}
		return strings.ToLower(strings.TrimSpace(v.String())), true, true
	}
	return strings.ToLower(strings.TrimSpace(string(payload))), true, true
}

func stateReceiver(client MQTT.Client, message MQTT.Message) {
	entityID := currentModel().FindMemberByTopic(message.Topic())
	if entityID == "" {
		Logger.Debug().Msgf("topic %s not found in model.  Fix subscription or add to model", message.Topic())
		return
	}
	value, present, ok := parseMemberState(message.Payload())
	if !ok {
		Logger.Debug().Str("topic", message.Topic()).Msg("no state in message, ignoring")
		return
	}
	Logger.Trace().Msgf("state message received: queue len %v", len(state_channel))
	state_channel <- StateUpdate{EntityID: entityID, Value: value, Present: present}
}

// expireMember treats a member whose state aged out as absent.
func expireMember(entityID string) {
	Logger.Debug().Str("entity", entityID).Msg("member state expired")
	state_channel <- StateUpdate{EntityID: entityID}
}

func pollSink(entityID, value string, present bool) {
	state_channel <- StateUpdate{EntityID: entityID, Value: value, Present: present}
}

/* ***************************************
Dimming
*/

var ErrDimNotInteger = errors.New("brightness value must be an integer")

// dimValue reads an integral JSON number; nil when the field is missing or null.
func dimValue(v gjson.Result, name string) (*int, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > math.MaxInt32 {
		return nil, errors.Wrapf(ErrDimNotInteger, "%s %s", name, v.Raw)
	}
	i := int(v.Num)
	return &i, nil
}

func dimFields(payload []byte, raw, pct string) (*int, *int, error) {
	rawValue, err := dimValue(gjson.GetBytes(payload, raw), raw)
	if err != nil {
		return nil, nil, err
	}
	pctValue, err := dimValue(gjson.GetBytes(payload, pct), pct)
	if err != nil {
		return nil, nil, err
	}
	return rawValue, pctValue, nil
}

// parseDimRequest reads a dim payload. A bare number is taken as a percentage.
func parseDimRequest(kind int, payload []byte) (state.DimRequest, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.Errorf("invalid json payload %q", string(payload))
	}
	bare := gjson.ParseBytes(payload)
	var req state.DimRequest
	switch kind {
	case DIM_ABSOLUTE:
		if bare.Type == gjson.Number {
			pct, err := dimValue(bare, state.FieldBrightnessPct)
			if err != nil {
				return nil, err
			}
			req = state.DimAbsolute{BrightnessPct: pct}
		} else {
			brightness, pct, err := dimFields(payload, state.FieldBrightness, state.FieldBrightnessPct)
			if err != nil {
				return nil, err
			}
			req = state.DimAbsolute{Brightness: brightness, BrightnessPct: pct}
		}
	case DIM_RELATIVE:
		if bare.Type == gjson.Number {
			pct, err := dimValue(bare, state.FieldBrightnessStepPct)
			if err != nil {
				return nil, err
			}
			req = state.DimRelative{BrightnessStepPct: pct}
		} else {
			step, pct, err := dimFields(payload, state.FieldBrightnessStep, state.FieldBrightnessStepPct)
			if err != nil {
				return nil, err
			}
			req = state.DimRelative{BrightnessStep: step, BrightnessStepPct: pct}
		}
	default:
		return nil, errors.Errorf("not a dim topic type %d", kind)
	}
	if _, err := req.Params(); err != nil {
		return nil, err
	}
	return req, nil
}

func commandReceiver(client MQTT.Client, message MQTT.Message) {
	m := currentModel()
	zone := m.FindZoneByTopic(message.Topic())
	if zone == "" {
		Logger.Debug().Msgf("topic %s not found in model.  Fix subscription or add to model", message.Topic())
		return
	}
	req, err := parseDimRequest(m.FindTopicType(message.Topic()), message.Payload())
	if err != nil {
		Logger.Warn().Err(err).Str("zone", zone).Msg("rejecting dim command")
		return
	}
	Logger.Debug().Msgf("dim command received: queue len %v", len(dim_channel))
	dim_channel <- DimItem{Zone: zone, Request: req}
}

// DimRoutine runs dim requests one at a time.
func DimRoutine() {
	for item := range dim_channel {
		err := dimZone(context.Background(), item.Zone, item.Request)
		if err != nil {
			Logger.Error().Err(err).Str("zone", item.Zone).Msg("dim failed")
		}
		if item.Result != nil {
			item.Result <- err
		}
	}
}

func dimZone(ctx context.Context, name string, req state.DimRequest) error {
	z, ok := currentModel().FindZone(name)
	if !ok {
		return errors.Wrap(ErrUnknownZone, name)
	}
	params, err := req.Params()
	if err != nil {
		return err
	}
	d := currentDispatcher()
	if d == nil {
		return errors.New("no dispatcher configured")
	}
	start := time.Now()
	err = state.Fanout(ctx, d, z.MemberIDs(), params)
	Logger.Info().Str("zone", z.Name).Stringer("params", params).Int("members", len(z.Members)).Dur("took", time.Since(start)).Msg("zone dimmed")
	return err
}

/* ***************************************
Config listeners
*/

func rebuildModel() {
	var next Model
	if err := next.BuildModel(); err != nil {
		Logger.Error().Msgf("Error building model: %v", err)
		return
	}
	previous := setModel(next)

	var removed []Zone
	for _, z := range previous.Zones {
		if _, ok := next.FindZone(z.Name); !ok {
			removed = append(removed, z)
		}
	}
	zone_status_mu.Lock()
	for _, z := range removed {
		delete(zone_status, z.Name)
	}
	zone_status_mu.Unlock()
	if len(removed) > 0 && Client != nil && Client.IsConnected() {
		RetractHA(removed, Client)
	}
	poller.SetEntities(next.Entities())
}

func subscribeZoneTopics() {
	ResetMQTTSubscriptions()
	m := currentModel()
	for _, topic := range m.StateTopics() {
		RegisterMQTTSubscription(topic, stateReceiver)
	}
	for _, topic := range m.CommandTopics() {
		RegisterMQTTSubscription(topic, commandReceiver)
	}
	RegisterMQTTSubscription(Config.GetString("discovery_prefix")+"/status", haStatusReceiver)
}

func configureDispatcher() {
	d, err := NewDispatcherFromConfig()
	if err != nil {
		Logger.Error().Err(err).Msg("Error configuring dispatcher")
		return
	}
	setDispatcher(d)
}

func restartPoller() {
	poller.Stop()
	poller.MakeStatePoller(NewHassClientFromConfig(), pollSink)
	poller.SetEntities(currentModel().Entities())
	poller.Start()
}

// announce re-sends discovery and the current zone states.
func announce(client MQTT.Client) {
	AdvertiseHA(currentModel().Zones, client)
	state_channel <- StateUpdate{All: true}
}

// haStatusReceiver re-announces when home assistant comes back online.
func haStatusReceiver(client MQTT.Client, message MQTT.Message) {
	if strings.TrimSpace(string(message.Payload())) == "online" {
		Logger.Info().Msg("home assistant online, re-advertising zones")
		go announce(client)
	}
}
