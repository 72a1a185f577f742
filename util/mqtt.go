package util

import (
	"fmt"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

var Client MQTT.Client

var subscriptions map[string]MQTT.MessageHandler

var subscriptionsMu sync.Mutex

var connectHandlers map[string]func(MQTT.Client)

// BridgeAvailabilityTopic carries "online"/"offline" for the whole service.
func BridgeAvailabilityTopic() string {
	return Config.GetString("topic_prefix") + "/online"
}

var connectHandler MQTT.OnConnectHandler = func(client MQTT.Client) {
	Logger.Info().Msg("Connected")
	subscribe(client)
	client.Publish(BridgeAvailabilityTopic(), 0, true, "online").Wait()
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	for _, handler := range connectHandlers {
		handler(client)
	}
}

func RegisterMQTTConnectHook(name string, handler func(MQTT.Client)) {
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	if handler == nil {
		delete(connectHandlers, name)
	} else {
		connectHandlers[name] = handler
	}
}

func subscribe(client MQTT.Client) {
	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	for topic, handler := range subscriptions {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Error Subscribing")
		}
	}
}

func RegisterMQTTSubscription(topic string, handler MQTT.MessageHandler) {
	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	if handler == nil {
		delete(subscriptions, topic)
	} else {
		subscriptions[topic] = handler
	}
}

// ResetMQTTSubscriptions drops every registered subscription and unsubscribes
// the live client from them.
func ResetMQTTSubscriptions() {
	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	var topics []string
	for topic := range subscriptions {
		topics = append(topics, topic)
	}
	subscriptions = make(map[string]MQTT.MessageHandler)
	if Client != nil && Client.IsConnected() && len(topics) > 0 {
		if token := Client.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
			Logger.Warn().Err(token.Error()).Msg("Error unsubscribing")
		}
	}
}

// Publish sends payload and waits for the broker to accept it.
func Publish(topic string, retained bool, payload interface{}) error {
	if Client == nil {
		return fmt.Errorf("mqtt client not initialized")
	}
	token := Client.Publish(topic, 0, retained, payload)
	token.Wait()
	return errors.Wrapf(token.Error(), "publish %s", topic)
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
}

var connectLostHandler MQTT.ConnectionLostHandler = func(client MQTT.Client, err error) {
	Logger.Info().Msgf("Connect lost: %v", err)
}

func MqttInit() {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(Config.GetString("broker_uri"))
	opts.SetClientID(Config.GetString("id_base") + "_" + GetRandString((6)))
	opts.SetUsername(Config.GetString("username"))
	opts.SetPassword(Config.GetString("password"))
	opts.SetCleanSession(Config.GetBool("cleansess"))
	opts.SetAutoReconnect(true)
	opts.SetWill(BridgeAvailabilityTopic(), "offline", 0, true)
	opts.OnConnectionLost = connectLostHandler
	opts.OnConnect = connectHandler
	opts.SetDefaultPublishHandler(receiver)

	if Client != nil {
		Logger.Debug().Msg("Client exists - destroying")
		if Client.IsConnected() {
			Client.Disconnect(1000)
		}
		Client = nil
	}

	Client = MQTT.NewClient(opts)

	if token := Client.Connect(); token.Wait() && token.Error() != nil {
		panic(token.Error())
	}
}
