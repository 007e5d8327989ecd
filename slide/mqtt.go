package slide

import (
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSettings resolves the broker settings, letting MQTT_BROKER,
// MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX
// override the configuration file.
func MQTTSettings(cfg MQTTConfig) MQTTConfig {
	out := cfg
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		out.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		out.ClientID = v
	}
	if out.ClientID == "" {
		out.ClientID = "salad"
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		out.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		out.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		out.PublishPrefix = v
	}
	if out.PublishPrefix == "" {
		out.PublishPrefix = "salad"
	}
	return out
}

// ConnectMQTT connects to the configured broker. It returns a nil client
// and no error when no broker is configured.
func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	settings := MQTTSettings(cfg)
	if settings.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to %s: timeout", settings.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", settings.Broker, err)
	}
	log.Printf("[MQTT] connected to %s as %s", settings.Broker, settings.ClientID)
	return client, nil
}

// WatchCancel subscribes to <prefix>/cancel and calls cancel on the first
// message received there
func WatchCancel(client mqtt.Client, prefix string, cancel func()) error {
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := prefix + "/cancel"
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		log.Printf("[MQTT] cancel requested on %s", msg.Topic())
		cancel()
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	return nil
}
