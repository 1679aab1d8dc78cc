package collector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	defaultSnaplen  = 65535
	defaultIdle     = 5 * time.Second
	defaultInterval = 100 * time.Millisecond
	socketRefresh   = time.Second
)

// PcapOptions configures a PcapEngine.
type PcapOptions struct {
	// Devices to capture on. Empty means every interface that is up.
	Devices []string
	// Filter is an extra BPF expression and-ed with the tcp/udp filter.
	Filter      string
	Snaplen     int32
	IdleTimeout time.Duration
}

type localAddrs map[[16]byte]struct{}

func (l localAddrs) has(ip [16]byte) bool {
	_, ok := l[ip]
	return ok
}

// PcapEngine attributes captured packets to processes through the socket
// table and reports per-process rates once per interval.
type PcapEngine struct {
	opts    PcapOptions
	devices []Device
	local   localAddrs
	log     *zap.Logger

	tracker *tracker
	sockets atomic.Pointer[socketTable]
	// set by capture goroutines when a flow had no owner
	missed atomic.Bool

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewPcapEngine(opts PcapOptions, log *zap.Logger) (*PcapEngine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Snaplen <= 0 {
		opts.Snaplen = defaultSnaplen
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdle
	}

	all, err := Interfaces()
	if err != nil {
		return nil, err
	}
	devices, err := selectDevices(opts.Devices, all)
	if err != nil {
		return nil, err
	}

	local := make(localAddrs)
	for _, dev := range all {
		for _, ip := range dev.Addrs {
			local[makeAddrPort(ip, 0).ip] = struct{}{}
		}
	}

	return &PcapEngine{
		opts:    opts,
		devices: devices,
		local:   local,
		log:     log,
		tracker: newTracker(opts.IdleTimeout),
		stop:    make(chan struct{}),
	}, nil
}

// Loop captures until BreakLoop is called or a device fails.
func (e *PcapEngine) Loop(cb Callback, interval time.Duration) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineBusy
	}
	defer e.running.Store(false)

	if interval <= 0 {
		interval = defaultInterval
	}

	handles := make([]*pcap.Handle, 0, len(e.devices))
	defer func() {
		for _, h := range handles {
			h.Close()
		}
	}()
	for _, dev := range e.devices {
		h, err := e.open(dev.Name, interval)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	e.refreshSockets()

	var wg sync.WaitGroup
	errCh := make(chan error, len(handles))
	for i, h := range handles {
		wg.Add(1)
		go func(h *pcap.Handle, device string) {
			defer wg.Done()
			if err := e.capture(h, device); err != nil {
				errCh <- err
			}
		}(h, e.devices[i].Name)
	}
	defer wg.Wait()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	lastRefresh := last
	for {
		select {
		case <-e.stop:
			return nil
		case err := <-errCh:
			e.BreakLoop()
			return err
		case now := <-ticker.C:
			if e.missed.Swap(false) || now.Sub(lastRefresh) >= socketRefresh {
				e.refreshSockets()
				lastRefresh = now
			}
			e.tracker.flush(now, now.Sub(last), cb)
			last = now
		}
	}
}

// BreakLoop makes Loop return. Capture goroutines exit within one read
// timeout.
func (e *PcapEngine) BreakLoop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *PcapEngine) open(device string, timeout time.Duration) (*pcap.Handle, error) {
	h, err := pcap.OpenLive(device, e.opts.Snaplen, false, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNoDevice, device, err)
	}

	filter := "tcp or udp"
	if e.opts.Filter != "" {
		filter = fmt.Sprintf("(%s) and (%s)", filter, e.opts.Filter)
	}
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, fmt.Errorf("set filter %q on %s: %w", filter, device, err)
	}

	e.log.Info("capturing", zap.String("device", device), zap.String("filter", filter))
	return h, nil
}

func (e *PcapEngine) capture(h *pcap.Handle, device string) error {
	decoder := h.LinkType()
	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		data, _, err := h.ReadPacketData()
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", device, err)
		}

		pkt := gopacket.NewPacket(data, decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		flow, outgoing, ok := classify(pkt, e.local)
		if !ok {
			continue
		}
		e.tracker.add(e.attribute(flow, device), outgoing, len(data), time.Now())
	}
}

func (e *PcapEngine) attribute(flow flowKey, device string) recordKey {
	pid, ok := e.sockets.Load().lookup(flow)
	if !ok {
		e.missed.Store(true)
		return recordKey{device: device, unknownProto: flow.proto}
	}
	return recordKey{pid: pid, device: device}
}

func (e *PcapEngine) refreshSockets() {
	table, err := listSockets()
	if err != nil {
		e.log.Warn("socket table refresh failed", zap.Error(err))
		return
	}
	e.sockets.Store(table)
}

// classify extracts the flow of a TCP or UDP packet as seen from this host
// and whether the packet is leaving it.
func classify(pkt gopacket.Packet, local localAddrs) (flow flowKey, outgoing bool, ok bool) {
	var src, dst [16]byte
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst = makeAddrPort(ip.SrcIP, 0).ip, makeAddrPort(ip.DstIP, 0).ip
	case *layers.IPv6:
		src, dst = makeAddrPort(ip.SrcIP, 0).ip, makeAddrPort(ip.DstIP, 0).ip
	default:
		return flowKey{}, false, false
	}

	var proto uint8
	var sport, dport uint16
	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		proto, sport, dport = protoTCP, uint16(t.SrcPort), uint16(t.DstPort)
	case *layers.UDP:
		proto, sport, dport = protoUDP, uint16(t.SrcPort), uint16(t.DstPort)
	default:
		return flowKey{}, false, false
	}

	s := addrPort{ip: src, port: sport}
	d := addrPort{ip: dst, port: dport}
	switch {
	case local.has(src):
		return flowKey{proto: proto, local: s, remote: d}, true, true
	case local.has(dst):
		return flowKey{proto: proto, local: d, remote: s}, false, true
	}
	return flowKey{}, false, false
}
