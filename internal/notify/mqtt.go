// Package notify bridges emitted records to a site MQTT broker so local
// integrations (sirens, access controllers, dashboards) can react without
// touching the journal.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/journal"
)

// MQTTBridge publishes event records at warning severity or above. It
// implements journal.Sink; heartbeats and insights are filtered out so the
// broker only carries actionable alerts.
type MQTTBridge struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// NewMQTTBridge connects to the configured broker. A connect failure is an
// error at startup; once connected the paho client auto-reconnects.
func NewMQTTBridge(cfg config.NotifyConfig) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(clientID(cfg))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout for %s", cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	topic := cfg.MQTTTopic
	if topic == "" {
		topic = "roboi/alerts"
	}

	logger := slog.Default().With("component", "mqtt_bridge")
	logger.Info("MQTT bridge connected", "broker", cfg.MQTTBroker, "topic", topic)

	return &MQTTBridge{client: client, topic: topic, logger: logger}, nil
}

func clientID(cfg config.NotifyConfig) string {
	if cfg.MQTTClient != "" {
		return cfg.MQTTClient
	}
	return "roboi-edge"
}

// Write publishes alert-worthy event records to <topic>/<camera>.
func (b *MQTTBridge) Write(rec *journal.Record) error {
	if rec.Type != journal.TypeEvent || rec.Data.Status == "safe" {
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := b.client.Publish(b.topic+"/"+rec.Meta.CameraID, 1, false, payload)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("mqtt publish timeout for camera %s", rec.Meta.CameraID)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}
