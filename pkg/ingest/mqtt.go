package ingest

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const (
	mqttQueueDepth     = 1024
	mqttConnectTimeout = 10 * time.Second
)

// MQTTSource subscribes to a broker topic and yields one event per message.
type MQTTSource struct {
	spec      Spec
	validator *Validator
	client    mqtt.Client
	events    chan []byte
}

// NewMQTTSource builds an MQTT subscriber; Connect dials the broker.
func NewMQTTSource(spec Spec, validator *Validator) *MQTTSource {
	return &MQTTSource{
		spec:      spec,
		validator: validator,
		events:    make(chan []byte, mqttQueueDepth),
	}
}

func (s *MQTTSource) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.spec.BrokerURL).
		SetClientID(s.spec.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	s.client = mqtt.NewClient(opts)
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "connect mqtt broker", err)
	}

	token := s.client.Subscribe(s.spec.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		select {
		case s.events <- payload:
		default: // queue full, drop
		}
	})
	if err := waitToken(ctx, token); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "subscribe mqtt topic", err)
	}
	return nil
}

func (s *MQTTSource) Read(ctx context.Context) (contracts.Event, error) {
	select {
	case <-ctx.Done():
		return contracts.Event{}, contracts.WrapError(contracts.KindCancelled, "read event", ctx.Err())
	case payload := <-s.events:
		return parseEvent(payload, s.validator)
	}
}

func (s *MQTTSource) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// waitToken waits for an MQTT operation honoring the caller's deadline.
func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return token.Error()
	}
}
