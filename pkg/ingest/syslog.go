package ingest

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const syslogQueueDepth = 1024

// SyslogSource listens on a UDP or TCP socket for syslog lines carrying a
// JSON event payload. Anything before the first '{' (priority, timestamp,
// host) is ignored.
type SyslogSource struct {
	addr      string
	proto     string
	validator *Validator

	events chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn net.PacketConn
	ln   net.Listener
}

// NewSyslogSource builds a syslog listener; proto defaults to udp.
func NewSyslogSource(addr, proto string, validator *Validator) *SyslogSource {
	if proto == "" {
		proto = "udp"
	}
	return &SyslogSource{
		addr:      addr,
		proto:     proto,
		validator: validator,
		events:    make(chan []byte, syslogQueueDepth),
	}
}

func (s *SyslogSource) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	switch s.proto {
	case "udp":
		conn, err := net.ListenPacket("udp", s.addr)
		if err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "listen syslog udp", err)
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.wg.Add(1)
		go s.readPackets(ctx, conn)
	case "tcp":
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "listen syslog tcp", err)
		}
		s.mu.Lock()
		s.ln = ln
		s.mu.Unlock()
		s.wg.Add(1)
		go s.acceptLoop(ctx, ln)
	default:
		return contracts.Errorf(contracts.KindConfig, "unknown syslog proto %q", s.proto)
	}
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *SyslogSource) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *SyslogSource) readPackets(ctx context.Context, conn net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return // closed
		}
		s.enqueue(ctx, buf[:n])
	}
}

func (s *SyslogSource) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // closed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				s.enqueue(ctx, scanner.Bytes())
			}
		}()
	}
}

func (s *SyslogSource) enqueue(ctx context.Context, line []byte) {
	payload := extractJSON(line)
	if payload == nil {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case s.events <- buf:
	case <-ctx.Done():
	default: // queue full, drop
	}
}

func (s *SyslogSource) Read(ctx context.Context) (contracts.Event, error) {
	select {
	case <-ctx.Done():
		return contracts.Event{}, contracts.WrapError(contracts.KindCancelled, "read event", ctx.Err())
	case payload := <-s.events:
		return parseEvent(payload, s.validator)
	}
}

func (s *SyslogSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// extractJSON strips the syslog prefix, returning the JSON body or nil.
func extractJSON(line []byte) []byte {
	i := bytes.IndexByte(line, '{')
	if i < 0 {
		return nil
	}
	return line[i:]
}
