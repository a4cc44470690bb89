//go:build linux

package wsserver

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/StanfordSNR/puffer-sub000/internal/abr"
)

// sampleTCPInfo reads the kernel's TCP_INFO for nc's underlying socket.
// Returns the zero value if nc isn't a *net.TCPConn or the syscall fails.
func sampleTCPInfo(nc net.Conn) abr.TCPInfo {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return abr.TCPInfo{}
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return abr.TCPInfo{}
	}

	var info *unix.TCPInfo
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	})
	if err != nil || sockErr != nil || info == nil {
		return abr.TCPInfo{}
	}

	var deliveryRate float64
	if info.Rtt > 0 {
		deliveryRate = float64(info.Snd_cwnd) * float64(info.Snd_mss) * 1e6 / float64(info.Rtt)
	}

	return abr.TCPInfo{
		CongestionWindow: int(info.Snd_cwnd),
		InFlightPackets:  int(info.Unacked),
		MinRTT:           time.Duration(info.Rtt-info.Rttvar) * time.Microsecond,
		RTT:              time.Duration(info.Rtt) * time.Microsecond,
		DeliveryRate:     deliveryRate,
	}
}
