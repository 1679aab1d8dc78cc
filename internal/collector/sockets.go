package collector

import (
	"fmt"
	"net"
	"syscall"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	protoTCP uint8 = 6
	protoUDP uint8 = 17
)

type addrPort struct {
	ip   [16]byte
	port uint16
}

func makeAddrPort(ip net.IP, port uint16) addrPort {
	a := addrPort{port: port}
	if ip16 := ip.To16(); ip16 != nil {
		copy(a.ip[:], ip16)
	}
	return a
}

type flowKey struct {
	proto  uint8
	local  addrPort
	remote addrPort
}

type portKey struct {
	proto uint8
	port  uint16
}

// socketTable maps connections to the pid that owns the socket.
type socketTable struct {
	byFlow      map[flowKey]int32
	byLocalPort map[portKey]int32
}

// listSockets reads the socket table of every process.
func listSockets() (*socketTable, error) {
	conns, err := psnet.ConnectionsPid("inet", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get connections: %w", err)
	}
	return buildSocketTable(conns), nil
}

func buildSocketTable(conns []psnet.ConnectionStat) *socketTable {
	t := &socketTable{
		byFlow:      make(map[flowKey]int32, len(conns)),
		byLocalPort: make(map[portKey]int32),
	}

	for _, conn := range conns {
		if conn.Pid == 0 {
			continue
		}

		var proto uint8
		switch conn.Type {
		case syscall.SOCK_STREAM:
			proto = protoTCP
		case syscall.SOCK_DGRAM:
			proto = protoUDP
		default:
			continue
		}

		local := makeAddrPort(net.ParseIP(conn.Laddr.IP), uint16(conn.Laddr.Port))
		remote := makeAddrPort(net.ParseIP(conn.Raddr.IP), uint16(conn.Raddr.Port))
		if conn.Raddr.Port != 0 {
			t.byFlow[flowKey{proto: proto, local: local, remote: remote}] = conn.Pid
		}

		pk := portKey{proto: proto, port: local.port}
		if _, exists := t.byLocalPort[pk]; !exists || conn.Raddr.Port == 0 {
			t.byLocalPort[pk] = conn.Pid
		}
	}
	return t
}

// lookup finds the owner of a flow, falling back to whoever holds the
// local port.
func (t *socketTable) lookup(k flowKey) (int32, bool) {
	if t == nil {
		return 0, false
	}
	if pid, ok := t.byFlow[k]; ok {
		return pid, true
	}
	pid, ok := t.byLocalPort[portKey{proto: k.proto, port: k.local.port}]
	return pid, ok
}
