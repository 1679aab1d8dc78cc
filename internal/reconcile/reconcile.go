// Package reconcile applies bandwidth events to the record store and keeps
// the presentation layer in step with it.
//
// A Loop is the only writer of its store. Each event is applied as one unit
// on the host's UI goroutine, so the presented rows and totals are never seen
// half-updated, and the next event is not taken off the channel until the
// previous one has been applied.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nozo-moto/gnethogs/internal/eventchan"
	"github.com/nozo-moto/gnethogs/internal/metrics"
	"github.com/nozo-moto/gnethogs/internal/store"
	"github.com/nozo-moto/gnethogs/internal/users"
	"github.com/nozo-moto/gnethogs/pkg/types"
)

// Presenter renders rows and totals. Rows are keyed by the handle the store
// issued; the presenter keeps only rendering state.
type Presenter interface {
	AppendRow(h types.RowHandle, row types.Row)
	UpdateRow(h types.RowHandle, row types.Row)
	RemoveRow(h types.RowHandle)
	SetTotals(t types.Totals)
}

// Host runs fn on the UI goroutine and returns once fn has finished, or
// with ctx's error if the UI goes away first.
type Host interface {
	Do(ctx context.Context, fn func()) error
}

// UserResolver turns a uid into a display name.
type UserResolver interface {
	Resolve(uid uint32) (string, error)
}

// State of the loop.
type State int32

const (
	Waiting State = iota
	Applying
)

func (s State) String() string {
	if s == Applying {
		return "applying"
	}
	return "waiting"
}

type Loop struct {
	store     *store.Store
	presenter Presenter
	users     UserResolver
	metrics   *metrics.Metrics
	log       *zap.Logger

	// uids already reported as unresolvable
	warnedUIDs map[uint32]struct{}

	state atomic.Int32
}

func New(p Presenter, u UserResolver, m *metrics.Metrics, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		store:     store.New(),
		presenter: p,
		users:     u,
		metrics:   m,
		log:       log,

		warnedUIDs: make(map[uint32]struct{}),
	}
}

// State reports whether the loop is waiting for an event or applying one.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Store exposes the record store. Only read it from the UI goroutine.
func (l *Loop) Store() *store.Store {
	return l.store
}

// Run drains rx until the sender closes it, applying each event through
// host. It returns nil when the channel closes and ctx's error if ctx ends
// first.
func (l *Loop) Run(ctx context.Context, rx *eventchan.Receiver, host Host) error {
	for {
		ev, err := rx.Recv(ctx)
		if errors.Is(err, eventchan.ErrClosed) {
			l.log.Debug("event channel closed")
			return nil
		}
		if err != nil {
			return err
		}

		if err := host.Do(ctx, func() { l.Apply(ev) }); err != nil {
			return err
		}
	}
}

// Apply applies one event. It must be called from the UI goroutine.
func (l *Loop) Apply(ev types.BandwidthEvent) {
	l.state.Store(int32(Applying))
	defer l.state.Store(int32(Waiting))

	switch ev.Action {
	case types.ActionRemove:
		if !l.remove(ev.RecordID) {
			return
		}
	case types.ActionSet:
		l.set(ev)
	default:
		l.log.Warn("dropping event with unknown action",
			zap.Int32("action", int32(ev.Action)),
			zap.Int32("record_id", ev.RecordID))
		l.observeAnomaly(metrics.BadAction)
		return
	}

	totals := l.store.Totals()
	l.presenter.SetTotals(totals)
	if l.metrics != nil {
		l.metrics.ObserveEvent(ev.Action)
		l.metrics.ObserveTotals(l.store.Len(), totals)
	}
}

func (l *Loop) remove(id int32) bool {
	rec, ok := l.store.Lookup(id)
	if !ok {
		l.log.Warn("remove for unknown record", zap.Int32("record_id", id))
		l.observeAnomaly(metrics.UnknownRecord)
		return false
	}

	l.presenter.RemoveRow(rec.Handle)
	if _, err := l.store.ApplyRemove(id); err != nil {
		l.log.Error("remove failed after lookup", zap.Int32("record_id", id), zap.Error(err))
		return false
	}
	return true
}

func (l *Loop) set(ev types.BandwidthEvent) {
	row := types.Row{
		PID:      ev.PID,
		User:     l.displayUser(ev.UID),
		Program:  ev.Program,
		Device:   ev.Device,
		Sent:     ev.Sent,
		Received: ev.Received,
	}

	h, created := l.store.ApplySet(ev.RecordID, row)
	if created {
		l.presenter.AppendRow(h, row)
		return
	}
	l.presenter.UpdateRow(h, row)
}

func (l *Loop) displayUser(uid uint32) string {
	if l.users == nil {
		return users.Placeholder(uid)
	}
	name, err := l.users.Resolve(uid)
	if err != nil {
		if _, seen := l.warnedUIDs[uid]; !seen {
			l.warnedUIDs[uid] = struct{}{}
			l.log.Warn("cannot resolve user", zap.Uint32("uid", uid), zap.Error(err))
		}
		l.observeAnomaly(metrics.UnresolvedUser)
		return users.Placeholder(uid)
	}
	return name
}

func (l *Loop) observeAnomaly(kind string) {
	if l.metrics != nil {
		l.metrics.ObserveAnomaly(kind)
	}
}
