package collector

import (
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveDevices(t *testing.T) {
	ifaces := []psnet.InterfaceStat{
		{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
		{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{
			{Addr: "192.168.1.5/24"},
			{Addr: "fe80::1/64"},
			{Addr: "ff02::1"},
		}},
		{Name: "eth1", Flags: []string{"broadcast"}},
		{Name: "wlan0", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.3"}}},
	}

	devs := activeDevices(ifaces)
	require.Len(t, devs, 2)
	assert.Equal(t, "eth0", devs[0].Name)
	require.Len(t, devs[0].Addrs, 2)
	assert.Equal(t, "192.168.1.5", devs[0].Addrs[0].String())
	assert.Equal(t, "fe80::1", devs[0].Addrs[1].String())
	assert.Equal(t, "wlan0", devs[1].Name)
	assert.Equal(t, "10.0.0.3", devs[1].Addrs[0].String())
}

func TestSelectDevices(t *testing.T) {
	all := []Device{{Name: "eth0"}, {Name: "wlan0"}}

	got, err := selectDevices(nil, all)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectDevices([]string{"wlan0"}, all)
	require.NoError(t, err)
	assert.Equal(t, []Device{{Name: "wlan0"}}, got)

	_, err = selectDevices([]string{"eth9"}, all)
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = selectDevices(nil, nil)
	assert.ErrorIs(t, err, ErrNoDevice)
}
