//go:build linux

package netstat

import (
	"time"

	"golang.org/x/sys/unix"
)

// getTCPInfo retrieves TCP_INFO for fd via a single getsockopt(2) call,
// condensed from the teacher's RawTCPInfo byte-layout struct plus manual
// field unpacking into one call onto golang.org/x/sys/unix, which already
// carries a struct matching the kernel's tcp_info layout.
func getTCPInfo(fd uintptr) (Info, bool) {
	raw, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return Info{}, false
	}

	info := Info{
		State:        tcpStateName(raw.State),
		RTT:          time.Duration(raw.Rtt) * time.Microsecond,
		RTTVar:       time.Duration(raw.Rttvar) * time.Microsecond,
		SendCwnd:     raw.Snd_cwnd,
		SendMSS:      raw.Snd_mss,
		ReceiveMSS:   raw.Rcv_mss,
		Retransmits:  raw.Retransmits,
		TotalRetrans: raw.Total_retrans,
	}
	if supportsByteCounters() {
		info.BytesAcked = raw.Bytes_acked
		info.BytesReceived = raw.Bytes_received
	}
	return info, true
}
