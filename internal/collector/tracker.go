package collector

import (
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	pid    int32
	device string
	// set only for traffic no process could be found for
	unknownProto uint8
}

type trackedRecord struct {
	id     int32
	pid    int32
	uid    uint32
	name   string
	device string

	sentBytes uint64
	recvBytes uint64

	sent       float32
	recv       float32
	announced  bool
	lastActive time.Time
}

// idAllocator hands out record ids and reuses an id only after it has
// been released.
type idAllocator struct {
	next int32
	free []int32
}

func (a *idAllocator) alloc() int32 {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}
	a.next++
	return a.next
}

func (a *idAllocator) release(id int32) {
	a.free = append(a.free, id)
}

const livenessInterval = time.Second

type emission struct {
	action int32
	rec    RawRecord
}

// tracker accumulates captured bytes per record and turns them into record
// updates once per tick.
type tracker struct {
	mu      sync.Mutex
	records map[recordKey]*trackedRecord
	ids     idAllocator
	idle    time.Duration

	// owned by the flushing goroutine
	lastLiveness time.Time

	lookup func(pid int32) (processInfo, bool)
	alive  func(pid int32) bool
}

func newTracker(idle time.Duration) *tracker {
	return &tracker{
		records: make(map[recordKey]*trackedRecord),
		idle:    idle,
		lookup:  lookupProcess,
		alive:   processAlive,
	}
}

// add counts n bytes of traffic for key. Process details for a new key are
// read before taking the lock.
func (t *tracker) add(key recordKey, outgoing bool, n int, now time.Time) {
	t.mu.Lock()
	rec, ok := t.records[key]
	if !ok {
		t.mu.Unlock()
		info := t.describe(key)
		t.mu.Lock()
		if rec, ok = t.records[key]; !ok {
			rec = t.newRecord(key, info, now)
			t.records[key] = rec
		}
	}
	if outgoing {
		rec.sentBytes += uint64(n)
	} else {
		rec.recvBytes += uint64(n)
	}
	t.mu.Unlock()
}

func (t *tracker) describe(key recordKey) processInfo {
	switch key.unknownProto {
	case protoTCP:
		return processInfo{name: "unknown TCP"}
	case protoUDP:
		return processInfo{name: "unknown UDP"}
	}
	info, _ := t.lookup(key.pid)
	return info
}

func (t *tracker) newRecord(key recordKey, info processInfo, now time.Time) *trackedRecord {
	return &trackedRecord{
		id:         t.ids.alloc(),
		pid:        key.pid,
		uid:        info.uid,
		name:       info.name,
		device:     key.device,
		lastActive: now,
	}
}

// flush turns the bytes seen during elapsed into rates and reports every
// record that appeared, changed, or went away, ordered by record id.
func (t *tracker) flush(now time.Time, elapsed time.Duration, cb Callback) {
	out := t.collect(now, elapsed)
	for i := range out {
		cb(out[i].action, &out[i].rec)
	}
}

func (t *tracker) collect(now time.Time, elapsed time.Duration) []emission {
	dead := t.deadProcesses(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []emission
	for key, rec := range t.records {
		active := rec.sentBytes > 0 || rec.recvBytes > 0
		if active {
			rec.lastActive = now
		}

		gone := key.unknownProto == 0 && dead[rec.pid]
		if gone || (!active && now.Sub(rec.lastActive) > t.idle) {
			if rec.announced {
				out = append(out, emission{ActionRemove, rec.raw()})
			}
			delete(t.records, key)
			t.ids.release(rec.id)
			continue
		}

		sent := kbps(rec.sentBytes, elapsed)
		recv := kbps(rec.recvBytes, elapsed)
		rec.sentBytes, rec.recvBytes = 0, 0

		if rec.announced && sent == rec.sent && recv == rec.recv {
			continue
		}
		rec.sent, rec.recv = sent, recv
		rec.announced = true
		out = append(out, emission{ActionSet, rec.raw()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].rec.RecordID < out[j].rec.RecordID
	})
	return out
}

// deadProcesses probes the pids of attributed records at most once per
// livenessInterval. Only the flushing goroutine calls it.
func (t *tracker) deadProcesses(now time.Time) map[int32]bool {
	if !t.lastLiveness.IsZero() && now.Sub(t.lastLiveness) < livenessInterval {
		return nil
	}
	t.lastLiveness = now

	t.mu.Lock()
	pids := make(map[int32]struct{}, len(t.records))
	for key := range t.records {
		if key.unknownProto == 0 {
			pids[key.pid] = struct{}{}
		}
	}
	t.mu.Unlock()

	dead := make(map[int32]bool)
	for pid := range pids {
		if !t.alive(pid) {
			dead[pid] = true
		}
	}
	return dead
}

func (r *trackedRecord) raw() RawRecord {
	return RawRecord{
		RecordID: r.id,
		PID:      r.pid,
		UID:      r.uid,
		Name:     []byte(r.name),
		Device:   []byte(r.device),
		SentKBs:  r.sent,
		RecvKBs:  r.recv,
	}
}

// kbps converts bytes seen over elapsed into kilobits per second.
func kbps(bytes uint64, elapsed time.Duration) float32 {
	if elapsed <= 0 {
		return 0
	}
	return float32(float64(bytes) * 8 / 1000 / elapsed.Seconds())
}
