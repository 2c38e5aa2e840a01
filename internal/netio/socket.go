// Package netio wraps a single non-blocking UDP socket with an
// optional latency/loss emulator and packet/byte counters. The socket
// is owned solely by this component.
package netio

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// Datagram is one received UDP payload and its source address. Peers
// are identified by the wire frame's MemberAndRoomId header, not by
// this address, since clients may roam, so Addr is only used to route
// the reply.
type Datagram struct {
	Addr net.Addr
	Body []byte
}

// Counters are the atomically-updated packet/byte totals exposed to
// external readers.
type Counters struct {
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsSent     uint64
	BytesSent       uint64
}

// Socket is a single non-blocking UDP endpoint.
type Socket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn

	counters Counters
	emu      emulator
}

// Listen opens a UDP socket bound to addr (e.g. ":7777").
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn, pc: ipv4.NewPacketConn(conn)}, nil
}

// Close releases the socket.
func (s *Socket) Close() error { return s.conn.Close() }

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RecvBatch performs one non-blocking batched read attempt via
// ipv4.PacketConn.ReadBatch, returning as many datagrams as were
// already queued on the socket without blocking.
func (s *Socket) RecvBatch(bufs [][]byte) ([]Datagram, error) {
	if err := s.pc.SetReadDeadline(time.Now()); err != nil {
		return nil, err
	}
	msgs := make([]ipv4.Message, len(bufs))
	for i, b := range bufs {
		msgs[i].Buffers = [][]byte{b}
	}
	n, err := s.pc.ReadBatch(msgs, 0)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Datagram, 0, n)
	for i := 0; i < n; i++ {
		if s.emu.shouldDrop() {
			continue
		}
		body := make([]byte, msgs[i].N)
		copy(body, bufs[i][:msgs[i].N])
		atomic.AddUint64(&s.counters.PacketsReceived, 1)
		atomic.AddUint64(&s.counters.BytesReceived, uint64(msgs[i].N))
		out = append(out, Datagram{Addr: msgs[i].Addr, Body: body})
	}
	return out, nil
}

// Send writes one datagram, applying the configured emulator delay
// via a short background timer so the caller's own loop is never
// blocked.
func (s *Socket) Send(ctx context.Context, addr net.Addr, body []byte) error {
	if s.emu.shouldDrop() {
		return nil
	}
	delay := s.emu.delay()
	send := func() error {
		n, err := s.conn.WriteTo(body, addr)
		if err != nil {
			return err
		}
		atomic.AddUint64(&s.counters.PacketsSent, 1)
		atomic.AddUint64(&s.counters.BytesSent, uint64(n))
		return nil
	}
	if delay <= 0 {
		return send()
	}
	go func() {
		select {
		case <-time.After(delay):
			_ = send()
		case <-ctx.Done():
		}
	}()
	return nil
}

// Stats returns a point-in-time snapshot of the packet/byte counters.
func (s *Socket) Stats() Counters {
	return Counters{
		PacketsReceived: atomic.LoadUint64(&s.counters.PacketsReceived),
		BytesReceived:   atomic.LoadUint64(&s.counters.BytesReceived),
		PacketsSent:     atomic.LoadUint64(&s.counters.PacketsSent),
		BytesSent:       atomic.LoadUint64(&s.counters.BytesSent),
	}
}

// ConfigEmulator installs a latency/loss profile for testing against a
// lossy link.
func (s *Socket) ConfigEmulator(lossFraction float64, latency time.Duration) {
	s.emu.configure(lossFraction, latency)
}

// ResetEmulator disables the latency/loss emulator.
func (s *Socket) ResetEmulator() { s.emu.configure(0, 0) }
