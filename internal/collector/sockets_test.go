package collector

import (
	"net"
	"syscall"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
)

func conn(pid int32, typ uint32, lip string, lport uint32, rip string, rport uint32) psnet.ConnectionStat {
	return psnet.ConnectionStat{
		Pid:   pid,
		Type:  typ,
		Laddr: psnet.Addr{IP: lip, Port: lport},
		Raddr: psnet.Addr{IP: rip, Port: rport},
	}
}

func TestSocketTableLookup(t *testing.T) {
	table := buildSocketTable([]psnet.ConnectionStat{
		conn(10, syscall.SOCK_STREAM, "192.168.1.5", 51000, "93.184.216.34", 443),
		conn(20, syscall.SOCK_STREAM, "0.0.0.0", 8080, "", 0),
		conn(21, syscall.SOCK_STREAM, "192.168.1.5", 8080, "10.0.0.9", 40000),
		conn(30, syscall.SOCK_DGRAM, "0.0.0.0", 53, "", 0),
		conn(0, syscall.SOCK_STREAM, "192.168.1.5", 22, "10.0.0.1", 5000),
	})

	tcp := func(lip string, lport uint16, rip string, rport uint16) flowKey {
		return flowKey{
			proto:  protoTCP,
			local:  makeAddrPort(net.ParseIP(lip), lport),
			remote: makeAddrPort(net.ParseIP(rip), rport),
		}
	}

	tests := []struct {
		name string
		key  flowKey
		pid  int32
		ok   bool
	}{
		{"exact flow", tcp("192.168.1.5", 51000, "93.184.216.34", 443), 10, true},
		{"accepted connection", tcp("192.168.1.5", 8080, "10.0.0.9", 40000), 21, true},
		{"new peer falls back to listener", tcp("192.168.1.5", 8080, "10.0.0.77", 1234), 20, true},
		{"udp by local port", flowKey{proto: protoUDP, local: makeAddrPort(net.ParseIP("192.168.1.5"), 53)}, 30, true},
		{"tcp port does not match udp", flowKey{proto: protoTCP, local: makeAddrPort(net.ParseIP("192.168.1.5"), 53)}, 0, false},
		{"kernel sockets are ignored", tcp("192.168.1.5", 22, "10.0.0.1", 5000), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, ok := table.lookup(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.pid, pid)
		})
	}
}

func TestNilSocketTable(t *testing.T) {
	var table *socketTable
	_, ok := table.lookup(flowKey{proto: protoTCP})
	assert.False(t, ok)
}
