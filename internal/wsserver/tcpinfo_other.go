//go:build !linux

package wsserver

import (
	"net"

	"github.com/StanfordSNR/puffer-sub000/internal/abr"
)

// sampleTCPInfo has no portable TCP_INFO equivalent outside Linux; callers
// treat a zero TCPInfo as "no sample this tick".
func sampleTCPInfo(nc net.Conn) abr.TCPInfo {
	return abr.TCPInfo{}
}
