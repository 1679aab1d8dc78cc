package collector

import (
	"fmt"
	"net"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Device is a capture device and the addresses that count as local on it.
type Device struct {
	Name  string
	Addrs []net.IP
}

// Interfaces returns the interfaces that are up and not loopback.
func Interfaces() ([]Device, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}
	return activeDevices(ifaces), nil
}

func activeDevices(ifaces []psnet.InterfaceStat) []Device {
	var active []Device
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		if iface.Name == "lo" || iface.Name == "lo0" {
			continue
		}

		dev := Device{Name: iface.Name}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsMulticast() {
				continue
			}
			dev.Addrs = append(dev.Addrs, ip)
		}
		active = append(active, dev)
	}
	return active
}

// selectDevices keeps the named devices, or all of them when names is empty.
func selectDevices(names []string, all []Device) ([]Device, error) {
	if len(names) == 0 {
		if len(all) == 0 {
			return nil, ErrNoDevice
		}
		return all, nil
	}

	byName := make(map[string]Device, len(all))
	for _, dev := range all {
		byName[dev.Name] = dev
	}

	selected := make([]Device, 0, len(names))
	for _, name := range names {
		dev, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not up", ErrNoDevice, name)
		}
		selected = append(selected, dev)
	}
	return selected, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
