package locate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingHandler is called for every telemetry message received from a
// station topic. On decode errors the reading is the zero value and err is
// set.
type ReadingHandler func(stationID string, r Reading, err error)

// MQTTClient manages the MQTT connection and the per-station telemetry
// subscriptions.
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	readingHandler ReadingHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// envOr returns the value of the environment variable name, falling back to
// the config-supplied value when the variable is unset or empty.
func envOr(name, fromConfig string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fromConfig
}

// InitMQTT initializes the global MQTT client with the provided
// configuration. Environment variables override config fields. If no broker
// is set anywhere, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler ReadingHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}
	broker := envOr("MQTT_BROKER", mc.Broker)
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Stations) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no station configuration provided")
	}

	client := &MQTTClient{
		config:         config,
		readingHandler: handler,
	}
	client.client = mqtt.NewClient(client.clientOptions(broker, mc))

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// clientOptions assembles the paho options for one broker connection.
func (c *MQTTClient) clientOptions(broker string, mc MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := envOr("MQTT_CLIENT_ID", mc.ClientID)
	if clientID == "" {
		clientID = "radioloc"
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", mc.Password))
	}

	// Sessions persist across reconnects so retained subscriptions survive
	// broker restarts. Message order does not matter: readings are keyed by
	// station and only the freshest one per station is kept.
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)
	return opts
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the broker with exponential
// backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection attempt timed out")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every configured station topic.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to station topics...")
	c.setConnected(true)

	for _, station := range c.config.Stations {
		if station.Topic == "" {
			log.Printf("Station %s has no topic configured, skipping", station.ID)
			continue
		}

		token := client.Subscribe(station.Topic, 0, c.createReadingHandler(station.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", station.Topic, token.Error())
		} else {
			log.Printf("Subscribed to %s for station %s", station.Topic, station.ID)
		}
	}
}

// onConnectionLost logs the interruption; auto-reconnect handles recovery.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createReadingHandler creates a message handler bound to one station. The
// subscription decides the station identity; a stationId in the payload is
// overridden so a misconfigured sender cannot spoof another station.
func (c *MQTTClient) createReadingHandler(stationID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		var reading Reading
		if err := json.Unmarshal(payload, &reading); err != nil {
			log.Printf("Error decoding reading from %s (topic: %s): %v", stationID, msg.Topic(), err)
			if c.readingHandler != nil {
				c.readingHandler(stationID, Reading{}, err)
			}
			return
		}
		reading.StationID = stationID
		if reading.Timestamp == 0 {
			reading.Timestamp = time.Now().Unix()
		}

		if c.readingHandler != nil {
			c.readingHandler(stationID, reading, nil)
		}
	}
}

// IsConnected returns the tracked connection state.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Client exposes the underlying paho client, e.g. for the publisher.
func (c *MQTTClient) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Disconnect closes the connection gracefully.
func (c *MQTTClient) Disconnect() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.setConnected(false)
}
