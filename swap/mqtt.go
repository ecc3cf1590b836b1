package swap

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured
const DefaultPublishPrefix = "parcelswap"

// MQTTClient manages the broker connection used to publish run progress
type MQTTClient struct {
	client      mqtt.Client
	prefix      string
	isConnected bool
	mu          sync.RWMutex
}

// resolveMQTT fills cfg from the MQTT_* environment variables, which take
// precedence over the config file
func resolveMQTT(cfg MQTTConfig) MQTTConfig {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		cfg.PublishPrefix = v
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "parcelswap"
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = DefaultPublishPrefix
	}
	return cfg
}

// ConnectMQTT creates a client and connects in the background until ctx is
// done. With no broker configured MQTT is disabled and it returns nil, nil.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTClient, error) {
	cfg = resolveMQTT(cfg)
	if cfg.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{prefix: cfg.PublishPrefix}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[MQTT] connected to %s", cfg.Broker)
		c.setConnected(true)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[MQTT] connection lost (%v), auto-reconnect will retry", err)
		c.setConnected(false)
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry(ctx)
	return c, nil
}

// connectWithRetry connects with exponential backoff until it succeeds or ctx
// is done
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := time.Second
	maxRetryDelay := 30 * time.Second

	for {
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

// IsConnected returns true if the client is connected
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

// Prefix returns the topic prefix for published messages
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// Client returns the underlying client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Disconnect closes the connection, letting in-flight publishes drain
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// newMQTTClientWithMock wraps an existing client, used with MockClient
func newMQTTClientWithMock(client mqtt.Client, prefix string) *MQTTClient {
	return &MQTTClient{client: client, prefix: prefix, isConnected: client.IsConnected()}
}
