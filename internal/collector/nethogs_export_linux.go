//go:build linux && cgo && nethogs

package collector

/*
#include <stdint.h>
#include <libnethogs.h>
*/
import "C"

//export gnethogsCallback
func gnethogsCallback(action C.int, data *C.NethogsMonitorRecord) {
	e := activeNethogs.Load()
	if e == nil || e.cb == nil || data == nil {
		return
	}
	e.cb(int32(action), copyRecord(data))
}
