package netstat

import "time"

// Info is a condensed, cross-platform view of kernel TCP_INFO, grounded
// on the field selection in the teacher's simeonmiteff/tcpinfo.Info and
// pkg/tcpinfo.Info — trimmed to a handful of fields. The teacher mirrors
// the entire Linux tcp_info struct byte-for-byte (RawTCPInfo, 248 bytes,
// one field per kernel version that ever added one); this struct keeps
// only the state, RTT, congestion window, MSS, retransmit counts and byte
// counters, and leaves the rest to golang.org/x/sys/unix for decoding.
// Of these, the exporter publishes RTT, RTT variance, congestion window
// and the two retransmit counts as Prometheus gauges.
type Info struct {
	State         string
	RTT           time.Duration
	RTTVar        time.Duration
	SendCwnd      uint32
	SendMSS       uint32
	ReceiveMSS    uint32
	Retransmits   uint8
	TotalRetrans  uint32
	BytesAcked    uint64
	BytesReceived uint64
}

// tcpStateNames mirrors include/net/tcp_states.h's TCP_ESTABLISHED..TCP_CLOSING
// ordering, which golang.org/x/sys/unix.TCPInfo.State follows directly.
var tcpStateNames = [...]string{
	1: "established",
	2: "syn_sent",
	3: "syn_recv",
	4: "fin_wait1",
	5: "fin_wait2",
	6: "time_wait",
	7: "close",
	8: "close_wait",
	9: "last_ack",
	10: "listen",
	11: "closing",
}

func tcpStateName(state uint8) string {
	if int(state) < len(tcpStateNames) && tcpStateNames[state] != "" {
		return tcpStateNames[state]
	}
	return "unknown"
}
