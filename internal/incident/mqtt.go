package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"guardian/internal/pipeline"
)

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes alerts to <prefix>/<camera_id>/<event_type>
type MQTTSink struct {
	prefix string
	client mqttPublisher
}

// NewMQTTSink connects to broker (host:port or a full URL)
func NewMQTTSink(broker, prefix, clientID string) (*MQTTSink, error) {
	if strings.TrimSpace(broker) == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	if clientID == "" {
		clientID = "guardian"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, token.Error())
	}
	return newMQTTSink(prefix, client), nil
}

func newMQTTSink(prefix string, client mqttPublisher) *MQTTSink {
	return &MQTTSink{prefix: strings.TrimRight(prefix, "/"), client: client}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an alert is published to
func (s *MQTTSink) Topic(alert *pipeline.AlertEvent) string {
	if s.prefix == "" {
		return messageKey(alert)
	}
	return s.prefix + "/" + messageKey(alert)
}

// Deliver publishes the alert with QoS 1
func (s *MQTTSink) Deliver(ctx context.Context, alert *pipeline.AlertEvent) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := s.client.Publish(s.Topic(alert), 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
