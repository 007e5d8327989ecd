package slide

import (
	"sync/atomic"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearMQTTEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PUBLISH_PREFIX"} {
		t.Setenv(key, "")
	}
}

func TestMQTTSettings_Defaults(t *testing.T) {
	clearMQTTEnv(t)
	s := MQTTSettings(MQTTConfig{Broker: "tcp://broker:1883"})
	assert.Equal(t, "tcp://broker:1883", s.Broker)
	assert.Equal(t, "salad", s.ClientID)
	assert.Equal(t, "salad", s.PublishPrefix)
}

func TestMQTTSettings_EnvOverrides(t *testing.T) {
	clearMQTTEnv(t)
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_CLIENT_ID", "env-client")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_PUBLISH_PREFIX", "slides")

	s := MQTTSettings(MQTTConfig{Broker: "tcp://file:1883", ClientID: "file-client", PublishPrefix: "file"})
	assert.Equal(t, MQTTConfig{
		Broker:        "tcp://env:1883",
		ClientID:      "env-client",
		Username:      "user",
		Password:      "secret",
		PublishPrefix: "slides",
	}, s)
}

func TestConnectMQTT_Disabled(t *testing.T) {
	clearMQTTEnv(t)
	client, err := ConnectMQTT(MQTTConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestWatchCancel(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)

	var calls atomic.Int32
	require.NoError(t, WatchCancel(client, "salad", func() { calls.Add(1) }))

	client.SimulateMessage("salad/status", []byte("x"))
	assert.Equal(t, int32(0), calls.Load(), "other topics are ignored")

	client.SimulateMessage("salad/cancel", []byte("stop"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchCancel_NotConnected(t *testing.T) {
	assert.Error(t, WatchCancel(nil, "salad", func() {}))
	assert.Error(t, WatchCancel(NewMockClient(), "salad", func() {}))
}

func TestMockClient_RecordsAndRoutes(t *testing.T) {
	client := NewMockClient()
	tok := client.Publish("a", 0, false, "x")
	assert.Error(t, tok.Error(), "publishing while disconnected fails")

	client.Connect()
	assert.True(t, client.IsConnectionOpen())
	require.NoError(t, client.Publish("a", 1, true, "payload").Error())
	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MockMessage{Topic: "a", Payload: []byte("payload"), QoS: 1, Retain: true}, msgs[0])

	var got []byte
	client.AddRoute("b", func(_ mqtt.Client, m mqtt.Message) { got = m.Payload() })
	client.SimulateMessage("b", []byte("hello"))
	assert.Equal(t, []byte("hello"), got)

	client.Unsubscribe("b")
	got = nil
	client.SimulateMessage("b", []byte("again"))
	assert.Nil(t, got)

	client.Disconnect(0)
	assert.False(t, client.IsConnected())
}
