// Package metrics surfaces the statistics external readers need to
// see: packet/byte counters, RTT, retransmits, and room/member/object
// counts, via plain github.com/prometheus/client_golang vectors
// labeled by room/command name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gameroom/relay/internal/netio"
)

// Server is the full set of metrics one relay process exposes,
// registered against a caller-supplied registry so tests can use a
// throwaway one instead of the global default.
type Server struct {
	RoomCount   prometheus.Gauge
	MemberCount prometheus.Gauge
	ObjectCount *prometheus.GaugeVec // labeled by room_id

	InboundCommands  *prometheus.CounterVec // labeled by command
	OutboundCommands *prometheus.CounterVec // labeled by command
	CommandsDropped  *prometheus.CounterVec // labeled by reason commands were dropped

	ExecutionTime *prometheus.HistogramVec // labeled by command

	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	PacketsSent     prometheus.Counter
	BytesSent       prometheus.Counter

	RetransmitCount prometheus.Counter
	RTT             prometheus.Gauge
}

// New builds and registers a full metrics set against reg.
func New(reg prometheus.Registerer) *Server {
	s := &Server{
		RoomCount:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_room_count", Help: "rooms currently hosted"}),
		MemberCount: prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_member_count", Help: "members currently registered across all rooms"}),
		ObjectCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "relay_object_count", Help: "game objects currently allocated"}, []string{"room_id"}),

		InboundCommands:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relay_inbound_commands_total", Help: "C2S commands executed"}, []string{"command"}),
		OutboundCommands: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relay_outbound_commands_total", Help: "S2C commands fanned out"}, []string{"command"}),
		CommandsDropped:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relay_commands_dropped_total", Help: "commands dropped per the drop-and-log error handling policy"}, []string{"reason"}),

		ExecutionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_command_execution_seconds",
			Help:    "room engine command execution latency",
			Buckets: []float64{5e-9, 1e-8, 1e-7, 5e-7, 1e-3, 5e-3, 1e-2, 5e-2},
		}, []string{"command"}),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_packets_received_total", Help: "UDP datagrams received"}),
		BytesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_bytes_received_total", Help: "UDP bytes received"}),
		PacketsSent:     prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_packets_sent_total", Help: "UDP datagrams sent"}),
		BytesSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_bytes_sent_total", Help: "UDP bytes sent"}),

		RetransmitCount: prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_retransmits_total", Help: "reliable frame retransmissions"}),
		RTT:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_rtt_seconds", Help: "most recently sampled round-trip time"}),
	}
	reg.MustRegister(
		s.RoomCount, s.MemberCount, s.ObjectCount,
		s.InboundCommands, s.OutboundCommands, s.CommandsDropped,
		s.ExecutionTime,
		s.PacketsReceived, s.BytesReceived, s.PacketsSent, s.BytesSent,
		s.RetransmitCount, s.RTT,
	)
	return s
}

// ObserveExecution records one room-engine command's execution time.
func (s *Server) ObserveExecution(command string, d time.Duration) {
	s.ExecutionTime.WithLabelValues(command).Observe(d.Seconds())
}

// SampleSocketCounters copies a netio.Socket's point-in-time counters
// into the corresponding Prometheus counters. Prometheus counters only
// move forward, so this adds the delta since the last sample rather
// than setting an absolute value.
func (s *Server) SampleSocketCounters(prev, cur netio.Counters) {
	if d := cur.PacketsReceived - prev.PacketsReceived; d > 0 {
		s.PacketsReceived.Add(float64(d))
	}
	if d := cur.BytesReceived - prev.BytesReceived; d > 0 {
		s.BytesReceived.Add(float64(d))
	}
	if d := cur.PacketsSent - prev.PacketsSent; d > 0 {
		s.PacketsSent.Add(float64(d))
	}
	if d := cur.BytesSent - prev.BytesSent; d > 0 {
		s.BytesSent.Add(float64(d))
	}
}
