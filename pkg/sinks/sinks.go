// Package sinks delivers wire events to operators: stdout, append-only
// files, and webhooks behind a rate limiter and circuit breaker.
package sinks

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/resiliency"
)

// Sink delivers one wire event. Implementations are safe for concurrent
// use by the daemon loop and ingest tasks.
type Sink interface {
	Emit(ctx context.Context, event contracts.HBEvent) error
	Name() string
}

// Spec is the tagged-union configuration of one sink.
type Spec struct {
	Type    string            `yaml:"type" json:"type"` // stdout, file, webhook
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// RatePerSec throttles webhook delivery; 0 means unlimited.
	RatePerSec float64 `yaml:"rate_per_sec,omitempty" json:"rate_per_sec,omitempty"`
	Burst      int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// Build dispatches a spec to its sink implementation.
func Build(spec Spec) (Sink, error) {
	switch spec.Type {
	case "stdout":
		return &StreamSink{name: "stdout", w: os.Stdout}, nil
	case "file":
		if spec.Path == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "file sink requires a path")
		}
		return &FileSink{path: spec.Path}, nil
	case "webhook":
		if spec.URL == "" {
			return nil, contracts.Errorf(contracts.KindConfig, "webhook sink requires a url")
		}
		return NewWebhookSink(spec), nil
	default:
		return nil, contracts.Errorf(contracts.KindConfig, "unknown sink type %q", spec.Type)
	}
}

// StreamSink writes events as JSON lines to a writer.
type StreamSink struct {
	mu   sync.Mutex
	name string
	w    io.Writer
}

// NewStreamSink wraps any writer as a sink.
func NewStreamSink(name string, w io.Writer) *StreamSink {
	return &StreamSink{name: name, w: w}
}

func (s *StreamSink) Name() string { return s.name }

func (s *StreamSink) Emit(_ context.Context, event contracts.HBEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write event", err)
	}
	return nil
}

// FileSink appends events as JSON lines to a file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func (s *FileSink) Name() string { return "file:" + s.path }

func (s *FileSink) Emit(_ context.Context, event contracts.HBEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "open event log", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "append event log", err)
	}
	return f.Close()
}

// WebhookSink posts events to an HTTP endpoint through the resilient
// client, throttled by a token bucket.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *resiliency.Client
	limiter *rate.Limiter
}

// NewWebhookSink builds a webhook sink with its own breaker and limiter.
func NewWebhookSink(spec Spec) *WebhookSink {
	breaker := resiliency.NewCircuitBreaker("webhook:"+spec.URL, 5, 30*time.Second, 10*time.Second)
	limit := rate.Inf
	if spec.RatePerSec > 0 {
		limit = rate.Limit(spec.RatePerSec)
	}
	burst := spec.Burst
	if burst <= 0 {
		burst = 1
	}
	return &WebhookSink{
		url:     spec.URL,
		headers: spec.Headers,
		client:  resiliency.NewClient(breaker),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Emit(ctx context.Context, event contracts.HBEvent) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return contracts.WrapError(contracts.KindCancelled, "rate limit wait", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode event", err)
	}
	return s.client.Post(ctx, s.url, data, s.headers)
}

// Fanout delivers to every sink, collecting per-sink failures without
// aborting delivery to the rest.
type Fanout struct {
	Sinks []Sink
}

// Emit sends the event to every sink and returns the per-sink errors keyed
// by sink name.
func (f Fanout) Emit(ctx context.Context, event contracts.HBEvent) map[string]error {
	var failures map[string]error
	for _, s := range f.Sinks {
		if err := s.Emit(ctx, event); err != nil {
			if failures == nil {
				failures = map[string]error{}
			}
			failures[s.Name()] = err
		}
	}
	return failures
}
