// Package ingest turns external telemetry feeds into events: file replay,
// syslog sockets, MQTT topics, and Kafka partitions, each validated
// against the telemetry schema before entering the evaluator.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Source is one telemetry feed. Read blocks until an event arrives, the
// feed ends (io.EOF), or the context is cancelled.
type Source interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (contracts.Event, error)
	Close() error
}

// Spec is the tagged-union configuration of one source.
type Spec struct {
	Type string `yaml:"type" json:"type"` // file, syslog, mqtt, kafka

	// file
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// syslog
	Addr  string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Proto string `yaml:"proto,omitempty" json:"proto,omitempty"` // udp (default) or tcp

	// mqtt
	BrokerURL string `yaml:"broker_url,omitempty" json:"broker_url,omitempty"`
	Topic     string `yaml:"topic,omitempty" json:"topic,omitempty"`
	ClientID  string `yaml:"client_id,omitempty" json:"client_id,omitempty"`

	// kafka
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	GroupID string   `yaml:"group_id,omitempty" json:"group_id,omitempty"`
}

// Build dispatches a spec to its source implementation. The validator may
// be nil, in which case events are only required to be well-formed JSON.
func Build(spec Spec, validator *Validator) (Source, error) {
	switch spec.Type {
	case "file":
		if spec.Path == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "file source requires a path")
		}
		return NewFileSource(spec.Path, validator), nil
	case "syslog":
		if spec.Addr == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "syslog source requires an addr")
		}
		return NewSyslogSource(spec.Addr, spec.Proto, validator), nil
	case "mqtt":
		if spec.BrokerURL == "" || spec.Topic == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "mqtt source requires broker_url and topic")
		}
		return NewMQTTSource(spec, validator), nil
	case "kafka":
		if len(spec.Brokers) == 0 || spec.Topic == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "kafka source requires brokers and topic")
		}
		return NewKafkaSource(spec, validator), nil
	default:
		return nil, contracts.Errorf(contracts.KindConfig, "unknown source type %q", spec.Type)
	}
}

// parseEvent validates and decodes one raw telemetry payload.
func parseEvent(data []byte, validator *Validator) (contracts.Event, error) {
	if validator != nil {
		if err := validator.ValidateBytes(data); err != nil {
			return contracts.Event{}, err
		}
	}
	var e contracts.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return contracts.Event{}, contracts.WrapError(contracts.KindParse, "decode event", err)
	}
	if e.Metric == "" {
		return contracts.Event{}, contracts.Errorf(contracts.KindSchema, "event missing metric name")
	}
	return e, nil
}
