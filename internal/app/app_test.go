package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nozo-moto/gnethogs/internal/collector"
	"github.com/nozo-moto/gnethogs/internal/config"
	"github.com/nozo-moto/gnethogs/internal/metrics"
	"github.com/nozo-moto/gnethogs/internal/ui"
	"github.com/nozo-moto/gnethogs/pkg/types"
)

type fakeEngine struct {
	records []collector.RawRecord
	err     error

	stop     chan struct{}
	stopOnce sync.Once
}

func newFakeEngine(records ...collector.RawRecord) *fakeEngine {
	return &fakeEngine{records: records, stop: make(chan struct{})}
}

func (e *fakeEngine) Loop(cb collector.Callback, interval time.Duration) error {
	for i := range e.records {
		cb(collector.ActionSet, &e.records[i])
	}
	if e.err != nil {
		return e.err
	}
	<-e.stop
	return nil
}

func (e *fakeEngine) BreakLoop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *fakeEngine) broken() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

type fakeUI struct {
	queue    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	quit     chan struct{}
}

func newFakeUI() *fakeUI {
	return &fakeUI{queue: make(chan func()), stop: make(chan struct{}), quit: make(chan struct{})}
}

func (u *fakeUI) Run() error {
	for {
		select {
		case fn := <-u.queue:
			fn()
		case <-u.stop:
			return nil
		case <-u.quit:
			return nil
		}
	}
}

func (u *fakeUI) Stop() {
	u.stopOnce.Do(func() { close(u.stop) })
}

func (u *fakeUI) stopped() bool {
	select {
	case <-u.stop:
		return true
	default:
		return false
	}
}

func (u *fakeUI) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case u.queue <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-u.stop:
		return ui.ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type syncPresenter struct {
	mu     sync.Mutex
	rows   map[types.RowHandle]types.Row
	totals types.Totals
}

func newSyncPresenter() *syncPresenter {
	return &syncPresenter{rows: make(map[types.RowHandle]types.Row)}
}

func (p *syncPresenter) AppendRow(h types.RowHandle, row types.Row) { p.put(h, row) }
func (p *syncPresenter) UpdateRow(h types.RowHandle, row types.Row) { p.put(h, row) }

func (p *syncPresenter) put(h types.RowHandle, row types.Row) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[h] = row
}

func (p *syncPresenter) RemoveRow(h types.RowHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows, h)
}

func (p *syncPresenter) SetTotals(t types.Totals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totals = t
}

func (p *syncPresenter) snapshot() (int, types.Totals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows), p.totals
}

type staticUsers map[uint32]string

func (u staticUsers) Resolve(uid uint32) (string, error) {
	return u[uid], nil
}

func testConfig() config.AppConfig {
	return config.Default().GNethogs
}

func records() []collector.RawRecord {
	return []collector.RawRecord{
		{RecordID: 1, PID: 100, Name: []byte("curl"), Device: []byte("eth0"), SentKBs: 5, RecvKBs: 2},
		{RecordID: 2, PID: 200, Name: []byte("ssh"), Device: []byte("eth0"), SentKBs: 1, RecvKBs: 1},
	}
}

func runAsync(a *App, ctx context.Context) chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func TestAppStopsOnCancel(t *testing.T) {
	engine := newFakeEngine(records()...)
	u := newFakeUI()
	p := newSyncPresenter()
	m := metrics.New()
	a := New(testConfig(), nil, m, engine, u, p, staticUsers{0: "root"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(a, ctx)

	require.Eventually(t, func() bool {
		n, totals := p.snapshot()
		return n == 2 && totals == types.Totals{Sent: 6, Received: 3}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitErr(t, errCh))
	assert.True(t, engine.broken())
	assert.True(t, u.stopped())
}

func TestAppStopsWhenUIQuits(t *testing.T) {
	engine := newFakeEngine()
	u := newFakeUI()
	a := New(testConfig(), nil, nil, engine, u, newSyncPresenter(), nil)

	errCh := runAsync(a, context.Background())
	close(u.quit)

	require.NoError(t, waitErr(t, errCh))
	assert.True(t, engine.broken())
}

func TestAppReportsEngineFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.err = collector.ErrNoDevice
	u := newFakeUI()
	a := New(testConfig(), nil, nil, engine, u, newSyncPresenter(), nil)

	err := waitErr(t, runAsync(a, context.Background()))
	require.ErrorIs(t, err, collector.ErrNoDevice)
	assert.True(t, u.stopped())
}

// initEngine ignores breaks until its init phase has finished.
type initEngine struct {
	initDone chan struct{}
	armed    atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func (e *initEngine) Loop(cb collector.Callback, interval time.Duration) error {
	<-e.initDone
	e.armed.Store(true)
	<-e.stop
	return nil
}

func (e *initEngine) BreakLoop() {
	if e.armed.Load() {
		e.stopOnce.Do(func() { close(e.stop) })
	}
}

func TestAppStopsWhenTeardownRacesEngineStartup(t *testing.T) {
	engine := &initEngine{initDone: make(chan struct{}), stop: make(chan struct{})}
	u := newFakeUI()
	cfg := testConfig()
	cfg.Engine.Interval = 10 * time.Millisecond
	a := New(cfg, nil, nil, engine, u, newSyncPresenter(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(a, ctx)

	cancel()
	require.Eventually(t, u.stopped, 5*time.Second, time.Millisecond)
	close(engine.initDone)

	require.NoError(t, waitErr(t, errCh))
}

func TestNewEngineRejectsUnknownKind(t *testing.T) {
	_, err := NewEngine(config.EngineConfig{Kind: "ebpf"}, nil)
	assert.Error(t, err)
}
