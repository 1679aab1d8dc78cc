//go:build linux && cgo && nethogs

package collector

/*
#cgo LDFLAGS: -lnethogs
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <libnethogs.h>

extern void gnethogsCallback(int action, NethogsMonitorRecord* data);

static int gnethogs_loop(int to_ms) {
	return nethogsmonitor_loop((NethogsMonitorCallback)gnethogsCallback, NULL, to_ms);
}
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
)

// libnethogs keeps its loop state in globals, so only one engine can be
// looping at a time. activeNethogs is the one the C callback reports to.
var activeNethogs atomic.Pointer[NethogsEngine]

// NethogsEngine runs the libnethogs monitor loop.
type NethogsEngine struct {
	log     *zap.Logger
	cb      Callback
	stopped atomic.Bool
}

func NewNethogsEngine(log *zap.Logger) (*NethogsEngine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return &NethogsEngine{log: log}, nil
}

func (e *NethogsEngine) Loop(cb Callback, interval time.Duration) error {
	if e.stopped.Load() {
		return nil
	}
	e.cb = cb
	if !activeNethogs.CompareAndSwap(nil, e) {
		return ErrEngineBusy
	}
	defer activeNethogs.Store(nil)

	ms := int(interval / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}

	e.log.Debug("nethogs loop starting", zap.Int("interval_ms", ms))
	switch status := C.gnethogs_loop(C.int(ms)); status {
	case C.NETHOGS_STATUS_OK:
		return nil
	case C.NETHOGS_STATUS_NO_DEVICE:
		return ErrNoDevice
	default:
		return fmt.Errorf("nethogs loop failed with status %d", int(status))
	}
}

// BreakLoop may be called repeatedly. A break that lands while libnethogs is
// still initialising is overwritten, so callers retry until Loop returns.
func (e *NethogsEngine) BreakLoop() {
	e.stopped.Store(true)
	C.nethogsmonitor_breakloop()
}

// copyRecord copies everything out of the C record while the callback is
// still running; data is not valid afterwards.
func copyRecord(data *C.NethogsMonitorRecord) *RawRecord {
	rec := &RawRecord{
		RecordID: int32(data.record_id),
		PID:      int32(data.pid),
		UID:      uint32(data.uid),
		SentKBs:  float32(data.sent_kbs),
		RecvKBs:  float32(data.recv_kbs),
	}
	if data.name != nil {
		rec.Name = C.GoBytes(unsafe.Pointer(data.name), C.int(C.strlen(data.name)))
	}
	if data.device_name != nil {
		rec.Device = C.GoBytes(unsafe.Pointer(data.device_name), C.int(C.strlen(data.device_name)))
	}
	return rec
}
