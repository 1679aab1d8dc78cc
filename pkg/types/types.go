package types

import (
	"fmt"
	"time"
)

// Action is the kind of change a BandwidthEvent carries.
type Action int32

const (
	// ActionSet covers both a new record and an updated record.
	ActionSet Action = 1
	// ActionRemove ends a record.
	ActionRemove Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionSet:
		return "set"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionSet || a == ActionRemove
}

// BandwidthEvent is produced once per engine callback.
type BandwidthEvent struct {
	Action   Action
	RecordID int32
	PID      int32
	UID      uint32
	Program  string
	Device   string
	Sent     float32 // kbps
	Received float32 // kbps
}

// RowHandle identifies a presented row. It is a lookup key and owns nothing.
type RowHandle uint64

// Row is what the presentation layer displays for one live record.
type Row struct {
	PID      int32
	User     string
	Program  string
	Device   string
	Sent     float32
	Received float32
}

// Totals are the sums of Sent and Received over all live records.
type Totals struct {
	Sent     float32
	Received float32
}

// HostStats is a snapshot of host load shown next to the totals.
type HostStats struct {
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryTotal uint64
	MemoryPerc  float64
	Goroutines  int
	Timestamp   time.Time
}
