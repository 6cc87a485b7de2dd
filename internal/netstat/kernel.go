//go:build linux

package netstat

import (
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// The teacher's pkg/linux/init.go gates struct field availability against
// a table of thirteen kernel versions, because it mirrors tcp_info's raw
// byte layout and a field read past the end of what the running kernel
// actually wrote is garbage. golang.org/x/sys/unix.GetsockoptTCPInfo
// already sizes its read to what getsockopt(2) returns, so this server
// doesn't need the full table — only the one gate that changes meaning
// rather than presence: tcpi_bytes_acked/tcpi_bytes_received were added
// in Linux 4.1 and read back as zero (not "unsupported") on older
// kernels, which would otherwise look like a connection with no confirmed
// throughput.
var (
	bytesCountersOnce      sync.Once
	bytesCountersSupported bool
)

func supportsByteCounters() bool {
	bytesCountersOnce.Do(func() {
		v, err := kernel.GetKernelVersion()
		if err != nil {
			logrus.WithError(err).Warn("could not determine kernel version; assuming no tcpi_bytes_acked support")
			return
		}
		bytesCountersSupported = kernel.CompareKernelVersion(*v, kernel.VersionInfo{Kernel: 4, Major: 1, Minor: 0}) >= 0
	})
	return bytesCountersSupported
}
