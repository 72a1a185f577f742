package util

import (
	"errors"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// Mock MQTT client for testing
type MockMQTTClient struct {
	publishCalls     []PublishCall
	subscribeCalls   []SubscribeCall
	unsubscribeCalls [][]string
	publishErr       error
	connected        bool
	mu               sync.RWMutex
}

type PublishCall struct {
	Payload  interface{}
	Topic    string
	QoS      byte
	Retained bool
}

type SubscribeCall struct {
	Handler MQTT.MessageHandler
	Topic   string
	QoS     byte
}

func (m *MockMQTTClient) IsConnected() bool      { return m.connected }
func (m *MockMQTTClient) IsConnectionOpen() bool { return m.connected }
func (m *MockMQTTClient) Connect() MQTT.Token {
	m.connected = true
	return &MockToken{}
}
func (m *MockMQTTClient) Disconnect(quiesce uint) { m.connected = false }

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls = append(m.publishCalls, PublishCall{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  payload,
	})
	return &MockToken{err: m.publishErr}
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls = append(m.subscribeCalls, SubscribeCall{
		Topic:   topic,
		QoS:     qos,
		Handler: callback,
	})
	return &MockToken{}
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback MQTT.MessageHandler) MQTT.Token {
	return &MockToken{}
}
func (m *MockMQTTClient) Unsubscribe(topics ...string) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeCalls = append(m.unsubscribeCalls, topics)
	return &MockToken{}
}
func (m *MockMQTTClient) AddRoute(topic string, callback MQTT.MessageHandler) {}
func (m *MockMQTTClient) OptionsReader() MQTT.ClientOptionsReader             { return MQTT.ClientOptionsReader{} }

func (m *MockMQTTClient) published() []PublishCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PublishCall{}, m.publishCalls...)
}

// Mock MQTT token
type MockToken struct {
	err error
}

func (m *MockToken) Wait() bool                     { return true }
func (m *MockToken) WaitTimeout(time.Duration) bool { return true }
func (m *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *MockToken) Error() error { return m.err }

// Mock MQTT message
type MockMessage struct {
	topic   string
	payload []byte
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 0 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}

func TestRegisterMQTTConnectHook(t *testing.T) {
	connectHandlers = make(map[string]func(MQTT.Client))

	called := false
	testHandler := func(client MQTT.Client) {
		called = true
	}

	RegisterMQTTConnectHook("test_handler", testHandler)

	if len(connectHandlers) != 1 {
		t.Errorf("Expected 1 connect handler, got %d", len(connectHandlers))
	}

	mockClient := &MockMQTTClient{}
	if connectHandlers["test_handler"] != nil {
		connectHandlers["test_handler"](mockClient)
	}

	if !called {
		t.Error("Connect handler should have been called")
	}

	RegisterMQTTConnectHook("test_handler", nil)
	if len(connectHandlers) != 0 {
		t.Errorf("Expected 0 connect handlers after removal, got %d", len(connectHandlers))
	}
}

func TestRegisterMQTTSubscription(t *testing.T) {
	subscriptions = make(map[string]MQTT.MessageHandler)

	testHandler := func(client MQTT.Client, message MQTT.Message) {}

	RegisterMQTTSubscription("test/topic", testHandler)

	if len(subscriptions) != 1 {
		t.Errorf("Expected 1 subscription, got %d", len(subscriptions))
	}

	RegisterMQTTSubscription("test/topic", nil)
	if len(subscriptions) != 0 {
		t.Errorf("Expected 0 subscriptions after removal, got %d", len(subscriptions))
	}
}

func TestSubscribe(t *testing.T) {
	mockClient := &MockMQTTClient{}

	subscriptions = make(map[string]MQTT.MessageHandler)
	testHandler := func(client MQTT.Client, message MQTT.Message) {}
	subscriptions["test/topic1"] = testHandler
	subscriptions["test/topic2"] = testHandler

	subscribe(mockClient)

	if len(mockClient.subscribeCalls) != 2 {
		t.Errorf("Expected 2 subscribe calls, got %d", len(mockClient.subscribeCalls))
	}

	topics := make(map[string]bool)
	for _, call := range mockClient.subscribeCalls {
		topics[call.Topic] = true
	}

	if !topics["test/topic1"] || !topics["test/topic2"] {
		t.Error("Expected both test topics to be subscribed")
	}
}

func TestResetMQTTSubscriptions(t *testing.T) {
	mockClient := &MockMQTTClient{connected: true}
	Client = mockClient
	defer func() { Client = nil }()

	subscriptions = make(map[string]MQTT.MessageHandler)
	RegisterMQTTSubscription("a/state", func(MQTT.Client, MQTT.Message) {})
	RegisterMQTTSubscription("b/state", func(MQTT.Client, MQTT.Message) {})

	ResetMQTTSubscriptions()

	if len(subscriptions) != 0 {
		t.Errorf("Expected no subscriptions after reset, got %d", len(subscriptions))
	}
	if len(mockClient.unsubscribeCalls) != 1 || len(mockClient.unsubscribeCalls[0]) != 2 {
		t.Errorf("Expected one unsubscribe of 2 topics, got %v", mockClient.unsubscribeCalls)
	}
}

func TestPublish(t *testing.T) {
	Client = nil
	if err := Publish("x", false, "y"); err == nil {
		t.Error("Publish without a client should fail")
	}

	mockClient := &MockMQTTClient{}
	Client = mockClient
	defer func() { Client = nil }()

	if err := Publish("zone/state", true, "ON"); err != nil {
		t.Errorf("Publish returned error: %v", err)
	}
	calls := mockClient.published()
	if len(calls) != 1 || calls[0].Topic != "zone/state" || !calls[0].Retained {
		t.Errorf("unexpected publish calls: %+v", calls)
	}

	mockClient.publishErr = errors.New("broker gone")
	if err := Publish("zone/state", true, "ON"); err == nil {
		t.Error("Publish should surface the token error")
	}
}

func TestReceiverFunction(t *testing.T) {
	mockClient := &MockMQTTClient{}
	mockMessage := &MockMessage{
		topic:   "unknown/topic",
		payload: []byte("test payload"),
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("receiver function should not panic: %v", r)
		}
	}()

	receiver(mockClient, mockMessage)
}

func TestConnectHandler(t *testing.T) {
	Config.Set("topic_prefix", "lighting_zone")
	mockClient := &MockMQTTClient{}

	subscriptions = make(map[string]MQTT.MessageHandler)
	connectHandlers = make(map[string]func(MQTT.Client))

	handlerCalled := false
	connectHandlers["test"] = func(client MQTT.Client) {
		handlerCalled = true
	}

	connectHandler(mockClient)

	calls := mockClient.published()
	if len(calls) < 1 {
		t.Error("Connect handler should publish online message")
	} else if calls[0].Topic != "lighting_zone/online" || calls[0].Payload != "online" || !calls[0].Retained {
		t.Errorf("Expected retained online message to lighting_zone/online, got %+v", calls[0])
	}

	if !handlerCalled {
		t.Error("Custom connect handler should have been called")
	}
}
