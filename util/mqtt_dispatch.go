package util

import (
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/elijahnyp/lighting_zone/state"
	"github.com/pkg/errors"
)

// CommandTopicData is what command_topic_template is rendered with.
type CommandTopicData struct {
	EntityID string
	Domain   string
	ObjectID string
}

// MQTTDispatcher sends member commands straight to the lights' own command
// topics, e.g. zigbee2mqtt/<name>/set, bypassing Home Assistant.
type MQTTDispatcher struct {
	tmpl *template.Template
}

func NewMQTTDispatcher(topicTemplate string) (*MQTTDispatcher, error) {
	t, err := template.New("command_topic").Option("missingkey=error").Parse(topicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "parse command_topic_template")
	}
	return &MQTTDispatcher{tmpl: t}, nil
}

func (d *MQTTDispatcher) CommandTopic(entityID string) (string, error) {
	data := CommandTopicData{EntityID: entityID, ObjectID: entityID}
	if i := strings.Index(entityID, "."); i >= 0 {
		data.Domain = entityID[:i]
		data.ObjectID = entityID[i+1:]
	}
	var b strings.Builder
	if err := d.tmpl.Execute(&b, data); err != nil {
		return "", errors.Wrapf(err, "render command topic for %s", entityID)
	}
	return b.String(), nil
}

func (d *MQTTDispatcher) TurnOn(ctx context.Context, entityID string, params state.Params) error {
	if Client == nil {
		return errors.New("mqtt client not initialized")
	}
	topic, err := d.CommandTopic(entityID)
	if err != nil {
		return err
	}
	payload := params.Map()
	payload["state"] = "ON"
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal command")
	}
	token := Client.Publish(topic, 0, false, data)
	select {
	case <-token.Done():
		return errors.Wrapf(token.Error(), "publish %s", topic)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "publish %s", topic)
	}
}

// NewDispatcherFromConfig picks the command path named by dispatch.mode.
func NewDispatcherFromConfig() (state.Dispatcher, error) {
	switch mode := strings.ToLower(Config.GetString("dispatch.mode")); mode {
	case "", "hass":
		return NewHassClientFromConfig(), nil
	case "mqtt":
		return NewMQTTDispatcher(Config.GetString("dispatch.command_topic_template"))
	default:
		return nil, errors.Errorf("unknown dispatch mode %q", mode)
	}
}
