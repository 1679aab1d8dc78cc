package collector

import (
	"errors"
	"time"
)

// Action codes passed to a Callback.
const (
	ActionSet    int32 = 1
	ActionRemove int32 = 2
)

var (
	ErrNotSupported = errors.New("engine not supported in this build")
	ErrNoDevice     = errors.New("no capture device")
	ErrEngineBusy   = errors.New("engine loop already running")
)

// RawRecord is one record update as reported by an engine. Engines copy any
// foreign memory into it before invoking the callback, so it stays valid
// after the callback returns.
type RawRecord struct {
	RecordID int32
	PID      int32
	UID      uint32
	Name     []byte
	Device   []byte
	SentKBs  float32
	RecvKBs  float32
}

// Callback receives record updates from an engine loop.
type Callback func(action int32, rec *RawRecord)

// Engine measures per-process bandwidth and reports it record by record.
type Engine interface {
	// Loop blocks, invoking cb for every record change, until BreakLoop
	// is called or the engine fails.
	Loop(cb Callback, interval time.Duration) error
	// BreakLoop makes Loop return. It is safe to call more than once and
	// before Loop has started. An engine may miss a break that arrives
	// while it is starting up; callers repeat it until Loop returns.
	BreakLoop()
}
